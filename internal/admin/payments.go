package admin

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/service"
	"github.com/digkill/TGFittingBot/internal/tax"
)

const maxWebhookBody = 1 << 20

// handleWebhook is the public endpoint for provider notifications. A
// processed or ignored event answers 200 so the provider stops retrying.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body error"})
		return
	}

	res, err := s.deps.Reconciler.ReconcileWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMockSettle(status models.PaymentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		body, sig, err := s.deps.Mock.Settle(id, status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.deps.Reconciler.ReconcileWebhook(r.Context(), body, sig)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleMockPaymentPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := s.deps.Mock.Status(id)
	if !ok {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "Test payment %s\nStatus: %s\nThis is a mock payment; an operator settles it from the admin API.\n", id, status)
}

func (s *Server) handleTaxBreakdown(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "amount must be a decimal number"})
		return
	}
	s.writeJSON(w, http.StatusOK, tax.ComputeBreakdown(amount))
}

func (s *Server) handleGrossFromNet(w http.ResponseWriter, r *http.Request) {
	net, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("net")))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "net must be a decimal number"})
		return
	}
	gross := tax.GrossFromNet(net)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"net":       net.StringFixed(2),
		"gross":     gross.StringFixed(2),
		"breakdown": tax.ComputeBreakdown(gross),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "from: " + err.Error()})
		return
	}
	to, err := parseDateTo(q.Get("to"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "to: " + err.Error()})
		return
	}

	file, err := s.deps.Reports.Render(r.Context(), q.Get("format"), service.ExportFilter{
		Status: models.PaymentStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		From:   from,
		To:     to,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if file.ArchiveKey != "" {
		w.Header().Set("X-Archive-Key", file.ArchiveKey)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty means unbounded.
func parseDate(v string) (*time.Time, error) {
	t, _, err := parseTimeOrDate(v)
	return t, err
}

// parseDateTo is parseDate for an inclusive upper bound: a bare date
// covers the whole day.
func parseDateTo(v string) (*time.Time, error) {
	t, dateOnly, err := parseTimeOrDate(v)
	if err != nil || t == nil || !dateOnly {
		return t, err
	}
	end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return &end, nil
}

func parseTimeOrDate(v string) (*time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", v)
	}
	t = t.UTC()
	return &t, false, nil
}
