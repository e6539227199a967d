package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGFittingBot/internal/models"
)

// Mock emulates the provider in memory. Settle produces the signed webhook
// body the real provider would send, so mock payments travel through the
// same reconciliation path as live ones.
type Mock struct {
	mu        sync.Mutex
	payments  map[string]*mockPayment
	secret    string
	returnURL string
	log       *slog.Logger
}

type mockPayment struct {
	req       CreateRequest
	status    string
	createdAt time.Time
}

func NewMock(secret, returnURL string, log *slog.Logger) *Mock {
	log.Warn("mock payment provider enabled")
	return &Mock{
		payments:  make(map[string]*mockPayment),
		secret:    secret,
		returnURL: strings.TrimRight(returnURL, "/"),
		log:       log,
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) CreatePayment(_ context.Context, req CreateRequest) (*Intent, error) {
	if req.IdempotencyKey == "" {
		return nil, providerError("idempotency key is required")
	}
	id := uuid.NewString()

	m.mu.Lock()
	m.payments[id] = &mockPayment{req: req, status: string(models.PaymentPending), createdAt: time.Now().UTC()}
	m.mu.Unlock()

	m.log.Info("mock payment created", "provider_payment_id", id, "amount", req.Amount.StringFixed(2), "currency", req.Currency)
	return &Intent{
		ProviderPaymentID: id,
		Status:            string(models.PaymentPending),
		ConfirmationURL:   fmt.Sprintf("%s/mock-payment/%s", m.returnURL, id),
	}, nil
}

// Settle moves a pending mock payment to status and returns the signed
// webhook for it. A payment settles once.
func (m *Mock) Settle(id string, status models.PaymentStatus) ([]byte, string, error) {
	if status != models.PaymentSucceeded && status != models.PaymentCanceled {
		return nil, "", fmt.Errorf("mock payments settle only as succeeded or canceled, got %q", status)
	}

	m.mu.Lock()
	p, ok := m.payments[id]
	if !ok {
		m.mu.Unlock()
		return nil, "", fmt.Errorf("%w: mock payment %s", ErrUnknownPayment, id)
	}
	if p.status != string(models.PaymentPending) {
		current := p.status
		m.mu.Unlock()
		return nil, "", fmt.Errorf("%w: mock payment %s is %s", ErrAlreadySettled, id, current)
	}
	p.status = string(status)
	m.mu.Unlock()

	event := Event{
		Type: "payment." + string(status),
		Object: EventObject{
			ID:     id,
			Status: string(status),
			Paid:   status == models.PaymentSucceeded,
			Amount: &EventAmount{Value: p.req.Amount.StringFixed(2), Currency: p.req.Currency},
			Metadata: map[string]string{
				MetadataIdempotencyKey: p.req.IdempotencyKey,
			},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("encode mock webhook: %w", err)
	}
	m.log.Info("mock payment settled", "provider_payment_id", id, "status", status)
	return body, Sign(m.secret, body), nil
}

// Status returns the mock-side status of a payment.
func (m *Mock) Status(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return "", false
	}
	return p.status, true
}
