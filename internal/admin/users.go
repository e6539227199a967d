package admin

import (
	"net/http"
	"strconv"

	"github.com/digkill/TGFittingBot/internal/models"
)

type creditsRequest struct {
	Amount         int    `json:"amount" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
}

type subscriptionRequest struct {
	Tier         string `json:"tier" validate:"required,oneof=basic pro premium"`
	DurationDays int    `json:"duration_days" validate:"gt=0,lte=3650"`
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	view, err := s.deps.Users.Entitlement(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	entries, err := s.deps.Entries.ListByUser(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleAwardCredits is a manual top-up. The caller-supplied key makes a
// retried request a no-op.
func (s *Server) handleAwardCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req creditsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Ledger.AwardCredits(r.Context(), id, req.Amount, "admin:"+req.IdempotencyKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin credited user", "user_id", id, "amount", req.Amount, "status", res.Status)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAwardSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req subscriptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Ledger.AwardSubscription(r.Context(), id, models.SubscriptionTier(req.Tier), req.DurationDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin granted subscription", "user_id", id, "tier", req.Tier, "expires_at", res.ExpiresAt)
	s.writeJSON(w, http.StatusOK, res)
}
