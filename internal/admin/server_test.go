package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/repository/memory"
	"github.com/digkill/TGFittingBot/internal/service"
)

const (
	testSecret = "hook-secret"
	adminUser  = "admin"
	adminPass  = "pass"
)

type fixture struct {
	store    *memory.Store
	mock     *payment.Mock
	payments *service.PaymentService
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	l := ledger.New(store, entitlement.DefaultPolicy(), log)
	refs := referral.NewService(l, store.Users(), store.Referrals(), referral.DefaultBonusCredits, log)
	tariffs := service.NewTariffService(store.Tariffs(), "RUB", 30)
	if err := tariffs.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mock := payment.NewMock(testSecret, "http://localhost:8080", log)

	srv := NewServer(Config{Username: adminUser, Password: adminPass}, Deps{
		Reconciler: payment.NewReconciler(l, testSecret, log),
		Ledger:     l,
		Users:      service.NewUserService(store.Users(), refs, entitlement.DefaultPolicy(), log),
		Entries:    store,
		Tariffs:    tariffs,
		Promos:     service.NewPromoService(l, store.Promos(), log),
		Reports:    service.NewReportService(store.Payments(), nil, log),
		Mock:       mock,
	}, log)

	return &fixture{
		store:    store,
		mock:     mock,
		payments: service.NewPaymentService(store.Payments(), tariffs, mock, log),
		handler:  srv.Handler(),
	}
}

func (f *fixture) addUser(t *testing.T, u models.User) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u.FreemiumResetAt = &now
	created, err := f.store.Users().Create(context.Background(), &u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func (f *fixture) do(t *testing.T, method, path string, body any, auth bool, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if auth {
		req.SetBasicAuth(adminUser, adminPass)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookStatusMapping(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, models.User{TelegramID: 1})
	p, err := f.payments.CreatePayment(context.Background(), u, "credits_100")
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	body, sig, err := f.mock.Settle(p.ProviderPaymentID, models.PaymentSucceeded)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	unknown, _ := json.Marshal(payment.Event{Type: "payment.succeeded", Object: payment.EventObject{ID: "nope", Status: "succeeded"}})

	tests := []struct {
		name   string
		body   []byte
		sig    string
		status int
		result payment.Status
	}{
		{name: "bad signature", body: body, sig: "deadbeef", status: http.StatusUnauthorized},
		{name: "unknown payment", body: unknown, sig: payment.Sign(testSecret, unknown), status: http.StatusNotFound},
		{name: "malformed", body: []byte("{"), sig: payment.Sign(testSecret, []byte("{")), status: http.StatusBadRequest},
		{name: "first delivery", body: body, sig: sig, status: http.StatusOK, result: payment.StatusSuccess},
		{name: "redelivery", body: body, sig: sig, status: http.StatusOK, result: payment.StatusAlreadyProcessed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/webhook/yookassa", tt.body, false, payment.SignatureHeader, tt.sig)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.result != "" {
				var res payment.Result
				if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if res.Status != tt.result {
					t.Errorf("result: got %s, want %s", res.Status, tt.result)
				}
			}
		})
	}

	got, _ := f.store.Users().FindByID(context.Background(), u.ID)
	if got.BalanceCredits != 100 {
		t.Errorf("balance: got %d, want 100", got.BalanceCredits)
	}
}

func TestMockSettleRoute(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, models.User{TelegramID: 1})
	p, err := f.payments.CreatePayment(context.Background(), u, "premium")
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/mock-payments/"+p.ProviderPaymentID+"/succeed", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: %d %s", rec.Code, rec.Body.String())
	}
	got, _ := f.store.Users().FindByID(context.Background(), u.ID)
	if got.SubscriptionTier != models.TierPremium || got.SubscriptionExpiresAt == nil {
		t.Errorf("subscription not granted: %+v", got)
	}

	page := f.do(t, http.MethodGet, "/mock-payment/"+p.ProviderPaymentID, nil, false)
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), "succeeded") {
		t.Errorf("mock page: %d %s", page.Code, page.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/mock-payments/"+p.ProviderPaymentID+"/cancel", nil, true); rec.Code != http.StatusConflict {
		t.Errorf("cancel after success: got %d, want 409", rec.Code)
	}
	page = f.do(t, http.MethodGet, "/mock-payment/"+p.ProviderPaymentID, nil, false)
	if !strings.Contains(page.Body.String(), "succeeded") {
		t.Errorf("mock page after rejected cancel: %s", page.Body.String())
	}
	stored, _ := f.store.Payments().FindByIdempotencyKey(context.Background(), p.IdempotencyKey)
	if stored == nil || stored.Provider != "mock" || stored.Status != models.PaymentSucceeded {
		t.Errorf("stored payment: %+v", stored)
	}
	if rec := f.do(t, http.MethodPost, "/mock-payments/missing/cancel", nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown mock payment: got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/tariffs/", "/promo-codes/", "/tax/breakdown?amount=1", "/users/1/entitlement"} {
		if rec := f.do(t, http.MethodGet, path, nil, false); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: got %d, want 401", path, rec.Code)
		}
	}
}

func TestTaxBreakdownRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/tax/breakdown?amount=1000.00", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var b map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b["net_amount"] != "932.00" || b["total_deductions"] != "68.00" || b["withholding_tax"] != "40.00" || b["deduction_percentage"] != "6.80" {
		t.Errorf("breakdown: %v", b)
	}

	if rec := f.do(t, http.MethodGet, "/tax/breakdown?amount=abc", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid amount: got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/tax/gross-from-net?net=932", nil, true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"gross":"1000.00"`) {
		t.Errorf("gross from net: %d %s", rec.Code, rec.Body.String())
	}
}

func TestManualAwards(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, models.User{TelegramID: 1})
	path := fmt.Sprintf("/users/%d/credits", u.ID)

	req := map[string]any{"amount": 25, "idempotency_key": "support-1"}
	for i, want := range []ledger.AwardStatus{ledger.AwardSuccess, ledger.AwardAlreadyProcessed} {
		rec := f.do(t, http.MethodPost, path, req, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("award %d: %d %s", i, rec.Code, rec.Body.String())
		}
		var res ledger.AwardResult
		_ = json.Unmarshal(rec.Body.Bytes(), &res)
		if res.Status != want {
			t.Errorf("award %d: got %s, want %s", i, res.Status, want)
		}
	}

	if rec := f.do(t, http.MethodPost, path, map[string]any{"amount": 0, "idempotency_key": "x"}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("zero amount: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/users/999/credits", req, true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: got %d", rec.Code)
	}

	sub := f.do(t, http.MethodPost, fmt.Sprintf("/users/%d/subscription", u.ID), map[string]any{"tier": "pro", "duration_days": 30}, true)
	if sub.Code != http.StatusOK {
		t.Fatalf("subscription: %d %s", sub.Code, sub.Body.String())
	}
	if rec := f.do(t, http.MethodPost, fmt.Sprintf("/users/%d/subscription", u.ID), map[string]any{"tier": "gold", "duration_days": 30}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad tier: got %d", rec.Code)
	}

	ent := f.do(t, http.MethodGet, fmt.Sprintf("/users/%d/entitlement", u.ID), nil, true)
	var view service.Entitlement
	if err := json.Unmarshal(ent.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode entitlement: %v", err)
	}
	if view.BalanceCredits != 25 || !view.SubscriptionActive || view.SubscriptionTier != models.TierPro {
		t.Errorf("entitlement: %+v", view)
	}

	entries := f.do(t, http.MethodGet, fmt.Sprintf("/users/%d/entries?limit=10", u.ID), nil, true)
	var rows []models.LedgerEntry
	if err := json.Unmarshal(entries.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(rows) != 2 || rows[0].Kind != models.EntrySubscription {
		t.Errorf("entries: %+v", rows)
	}
}

func TestTariffAndPromoCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/tariffs/", map[string]any{
		"code": "credits_500", "title": "500 credits", "payment_type": "credits",
		"credits": 500, "price_minor_units": 79900,
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tariff: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/tariffs/", map[string]any{"code": "x"}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid tariff: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/tariffs/999", map[string]any{"title": "x"}, true); rec.Code != http.StatusNotFound {
		t.Errorf("update missing tariff: got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/promo-codes/", map[string]any{"code": "HELLO", "credits": 5, "max_uses": 3}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create promo: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/promo-codes/", map[string]any{"code": "HELLO", "credits": 5, "max_uses": 3}, true); rec.Code != http.StatusConflict {
		t.Errorf("duplicate promo: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/promo-codes/abc", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", rec.Code)
	}
}

func TestExportRoute(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, models.User{TelegramID: 5})
	p, _ := f.payments.CreatePayment(context.Background(), u, "basic")
	if rec := f.do(t, http.MethodPost, "/mock-payments/"+p.ProviderPaymentID+"/succeed", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("settle: %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/payments/export?format=csv&from=2000-01-01", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type: %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "299.00") || !strings.Contains(rec.Body.String(), "TOTAL") {
		t.Errorf("csv body: %s", rec.Body.String())
	}

	if rec := f.do(t, http.MethodGet, "/payments/export?from=yesterday", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/payments/export?format=xml", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad format: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/payments/export?status=refunded", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/payments/export?from=2001-01-02&to=2001-01-01", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range: got %d", rec.Code)
	}
}

func TestExportRouteFilters(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, models.User{TelegramID: 6})
	paid, _ := f.payments.CreatePayment(context.Background(), u, "basic")
	canceled, _ := f.payments.CreatePayment(context.Background(), u, "pro")
	f.do(t, http.MethodPost, "/mock-payments/"+paid.ProviderPaymentID+"/succeed", nil, true)
	f.do(t, http.MethodPost, "/mock-payments/"+canceled.ProviderPaymentID+"/cancel", nil, true)

	today := time.Now().UTC().Format("2006-01-02")
	tests := []struct {
		name  string
		query string
		count int
	}{
		{name: "default succeeded", query: "", count: 1},
		{name: "canceled", query: "status=canceled", count: 1},
		{name: "pending", query: "status=pending", count: 0},
		{name: "to is inclusive of the whole day", query: "to=" + today, count: 1},
		{name: "before today", query: "to=2000-01-01", count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/payments/export?format=json&"+tt.query, nil, true)
			if rec.Code != http.StatusOK {
				t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
			}
			var body struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != tt.count {
				t.Errorf("count: got %d, want %d", body.Count, tt.count)
			}
		})
	}
}

func TestParseDateTo(t *testing.T) {
	got, err := parseDateTo("2026-03-01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 3, 1, 23, 59, 59, 999999999, time.UTC)
	if !got.Equal(want) {
		t.Errorf("date-only: got %s, want %s", got, want)
	}

	got, err = parseDateTo("2026-03-01T10:00:00Z")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp: got %v err %v", got, err)
	}
	if got, err := parseDateTo(""); got != nil || err != nil {
		t.Errorf("empty: got %v err %v", got, err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&entitlement.InsufficientError{Reason: entitlement.ReasonInsufficientCredits, Required: 1}, http.StatusPaymentRequired},
		{fmt.Errorf("wrap: %w", ledger.ErrConflict), http.StatusServiceUnavailable},
		{ledger.ErrUserNotFound, http.StatusNotFound},
		{payment.ErrAuthenticity, http.StatusUnauthorized},
		{payment.ErrProvider, http.StatusBadGateway},
		{payment.ErrAlreadySettled, http.StatusConflict},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, got, tt.want)
		}
	}
}
