// Package payment creates payment intents at the provider and reconciles the
// provider's webhooks with the ledger.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuthenticity means the webhook signature did not match.
	ErrAuthenticity = errors.New("webhook signature mismatch")
	// ErrUnknownPayment means no local payment matches the webhook.
	ErrUnknownPayment = errors.New("unknown payment")
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrProvider wraps failures reported by the payment provider API.
	ErrProvider = errors.New("payment provider error")
	// ErrAlreadySettled means a mock payment left pending before.
	ErrAlreadySettled = errors.New("payment already settled")
)

type CreateRequest struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
	Metadata       map[string]string
}

type Intent struct {
	ProviderPaymentID string
	Status            string
	ConfirmationURL   string
	Raw               string
}

// Provider is implemented by the live YooKassa client and by the in-memory
// mock used in development.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req CreateRequest) (*Intent, error)
}

func providerError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, args...))
}
