// Package admin serves the provider webhook and the operator API.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/service"
)

type EntryLister interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
}

type Config struct {
	Addr     string
	Username string
	Password string
}

// Deps are the components the routes delegate to. Mock is nil unless mock
// payments are enabled; its routes are not registered otherwise.
type Deps struct {
	Reconciler *payment.Reconciler
	Ledger     *ledger.Ledger
	Users      *service.UserService
	Entries    EntryLister
	Tariffs    *service.TariffService
	Promos     *service.PromoService
	Reports    *service.ReportService
	Mock       *payment.Mock
}

type Server struct {
	cfg       Config
	deps      Deps
	log       *slog.Logger
	validator *validator.Validate
	router    *chi.Mux
}

func NewServer(cfg Config, deps Deps, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		router:    r,
	}

	r.Post("/webhook/yookassa", s.handleWebhook)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	if deps.Mock != nil {
		r.Get("/mock-payment/{id}", s.handleMockPaymentPage)
	}

	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())

		protected.Get("/tax/breakdown", s.handleTaxBreakdown)
		protected.Get("/tax/gross-from-net", s.handleGrossFromNet)
		protected.Get("/payments/export", s.handleExport)

		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/entitlement", s.handleEntitlement)
			r.Get("/entries", s.handleEntries)
			r.Post("/credits", s.handleAwardCredits)
			r.Post("/subscription", s.handleAwardSubscription)
		})
		protected.Route("/tariffs", func(r chi.Router) {
			r.Get("/", s.handleListTariffs)
			r.Post("/", s.handleCreateTariff)
			r.Put("/{id}", s.handleUpdateTariff)
			r.Delete("/{id}", s.handleDeleteTariff)
		})
		protected.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
		if deps.Mock != nil {
			protected.Post("/mock-payments/{id}/succeed", s.handleMockSettle(models.PaymentSucceeded))
			protected.Post("/mock-payments/{id}/cancel", s.handleMockSettle(models.PaymentCanceled))
		}
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin server listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="fittingbot"`)
				s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decode reads a JSON body into v and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return false
	}
	if err := s.validator.Struct(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: formatValidationError(err)})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return 0, false
	}
	return id, true
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
