package admin

import (
	"errors"
	"net/http"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/service"
)

type errorBody struct {
	Error    string `json:"error"`
	Balance  *int   `json:"balance,omitempty"`
	Required *int   `json:"required,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var insufficient *entitlement.InsufficientError
	switch {
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrAuthenticity):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrUnknownPayment),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrGenerationNotFound),
		errors.Is(err, service.ErrTariffNotFound),
		errors.Is(err, service.ErrPromoNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTier),
		errors.Is(err, ledger.ErrMissingKey),
		errors.Is(err, service.ErrInvalidTariff),
		errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, payment.ErrAlreadySettled):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var insufficient *entitlement.InsufficientError
	if errors.As(err, &insufficient) {
		body = errorBody{Error: insufficient.Reason, Balance: &insufficient.Balance, Required: &insufficient.Required}
	}

	switch {
	case status >= http.StatusInternalServerError:
		s.log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	default:
		s.log.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, body)
}
