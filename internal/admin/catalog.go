package admin

import (
	"net/http"

	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/service"
)

type tariffRequest struct {
	Code             string `json:"code" validate:"required,max=64"`
	Title            string `json:"title" validate:"required,max=255"`
	Description      string `json:"description"`
	PaymentType      string `json:"payment_type" validate:"required,oneof=subscription credits"`
	SubscriptionTier string `json:"subscription_tier" validate:"omitempty,oneof=basic pro premium"`
	Credits          int    `json:"credits" validate:"gte=0"`
	DurationDays     int    `json:"duration_days" validate:"gte=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
	PriceMinorUnits  int64  `json:"price_minor_units" validate:"gt=0"`
	IsActive         *bool  `json:"is_active"`
}

type tariffUpdateRequest struct {
	Title           *string `json:"title" validate:"omitempty,max=255"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency" validate:"omitempty,len=3"`
	PriceMinorUnits *int64  `json:"price_minor_units" validate:"omitempty,gt=0"`
	Credits         *int    `json:"credits" validate:"omitempty,gte=0"`
	DurationDays    *int    `json:"duration_days" validate:"omitempty,gte=0"`
	IsActive        *bool   `json:"is_active"`
}

type promoRequest struct {
	Code    string `json:"code" validate:"required,max=64"`
	Credits int    `json:"credits" validate:"gt=0"`
	MaxUses int    `json:"max_uses" validate:"gt=0"`
}

type promoUpdateRequest struct {
	Code    string `json:"code" validate:"omitempty,max=64"`
	Credits int    `json:"credits" validate:"gte=0"`
	MaxUses int    `json:"max_uses" validate:"gte=0"`
}

func (s *Server) handleListTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := s.deps.Tariffs.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tariffs == nil {
		tariffs = []models.Tariff{}
	}
	s.writeJSON(w, http.StatusOK, tariffs)
}

func (s *Server) handleCreateTariff(w http.ResponseWriter, r *http.Request) {
	var req tariffRequest
	if !s.decode(w, r, &req) {
		return
	}
	tariff, err := s.deps.Tariffs.Create(r.Context(), service.CreateTariffInput{
		Code:             req.Code,
		Title:            req.Title,
		Description:      req.Description,
		PaymentType:      models.PaymentType(req.PaymentType),
		SubscriptionTier: models.SubscriptionTier(req.SubscriptionTier),
		Credits:          req.Credits,
		DurationDays:     req.DurationDays,
		Currency:         req.Currency,
		PriceMinorUnits:  req.PriceMinorUnits,
		IsActive:         req.IsActive,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tariff)
}

func (s *Server) handleUpdateTariff(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req tariffUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	tariff, err := s.deps.Tariffs.Update(r.Context(), id, service.UpdateTariffInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		DurationDays:    req.DurationDays,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tariff)
}

func (s *Server) handleDeleteTariff(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Tariffs.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.deps.Promos.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if promos == nil {
		promos = []models.PromoCode{}
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}
	promo, err := s.deps.Promos.Create(r.Context(), service.PromoInput{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req promoUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	promo, err := s.deps.Promos.Update(r.Context(), id, service.PromoInput{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
