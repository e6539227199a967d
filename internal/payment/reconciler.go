package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

// MetadataIdempotencyKey is the metadata field that echoes our payment key
// back in provider webhooks.
const MetadataIdempotencyKey = "idempotency_key"

type Event struct {
	Type   string      `json:"event"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Paid     bool              `json:"paid"`
	Amount   *EventAmount      `json:"amount,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type EventAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Status string

const (
	StatusSuccess          Status = "success"
	StatusAlreadyProcessed Status = "already_processed"
	// StatusIgnored is returned for intermediate provider states.
	StatusIgnored Status = "ignored"
)

type Result struct {
	Status                Status               `json:"status"`
	PaymentID             int64                `json:"payment_id"`
	PaymentStatus         models.PaymentStatus `json:"payment_status"`
	CreditsAwarded        int                  `json:"credits_awarded,omitempty"`
	SubscriptionExpiresAt *time.Time           `json:"subscription_expires_at,omitempty"`
}

type Reconciler struct {
	ledger *ledger.Ledger
	secret string
	log    *slog.Logger
}

func NewReconciler(l *ledger.Ledger, secret string, log *slog.Logger) *Reconciler {
	return &Reconciler{ledger: l, secret: secret, log: log}
}

// ReconcileWebhook verifies and applies one webhook delivery. The status flip
// and the award commit in one transaction, and redelivery of a processed
// event returns StatusAlreadyProcessed.
func (r *Reconciler) ReconcileWebhook(ctx context.Context, body []byte, signature string) (Result, error) {
	if !Verify(r.secret, body, signature) {
		r.log.Warn("webhook rejected", "reason", "signature mismatch", "body_bytes", len(body))
		return Result{}, ErrAuthenticity
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	key := evt.Object.Metadata[MetadataIdempotencyKey]
	if evt.Object.ID == "" && key == "" {
		return Result{}, fmt.Errorf("%w: missing payment id", ErrInvalidPayload)
	}
	target := models.PaymentStatus(evt.Object.Status)

	var res Result
	err := r.ledger.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		res = Result{}
		p, err := tx.LockPayment(ctx, evt.Object.ID, key)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: provider_payment_id=%q idempotency_key=%q", ErrUnknownPayment, evt.Object.ID, key)
		}
		res.PaymentID = p.ID
		res.PaymentStatus = p.Status

		if p.Status.Terminal() {
			if p.Status != target {
				r.log.Warn("webhook for finalized payment", "payment_id", p.ID, "status", p.Status, "event_status", target)
			}
			res.Status = StatusAlreadyProcessed
			return nil
		}

		switch target {
		case models.PaymentSucceeded:
			if err := checkAmount(p, evt.Object.Amount); err != nil {
				return err
			}
			if err := r.award(ctx, tx, p, &res); err != nil {
				return err
			}
		case models.PaymentCanceled, models.PaymentFailed:
		default:
			res.Status = StatusIgnored
			return nil
		}

		now := r.ledger.Now()
		p.Status = target
		if target == models.PaymentSucceeded {
			p.PaidAt = &now
		}
		if p.ProviderPaymentID == "" {
			p.ProviderPaymentID = evt.Object.ID
		}
		p.RawPayload = string(body)
		if err := tx.SavePaymentStatus(ctx, p); err != nil {
			return err
		}
		res.Status = StatusSuccess
		res.PaymentStatus = target
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUnknownPayment) && !errors.Is(err, ErrInvalidPayload) {
			return Result{}, fmt.Errorf("reconcile payment: %w", err)
		}
		r.log.Error("webhook not applied", "event", evt.Type, "provider_payment_id", evt.Object.ID, "err", err)
		return Result{}, err
	}

	r.log.Info("webhook reconciled",
		"event", evt.Type,
		"payment_id", res.PaymentID,
		"payment_status", res.PaymentStatus,
		"result", res.Status,
	)
	return res, nil
}

func (r *Reconciler) award(ctx context.Context, tx ledger.Tx, p *models.Payment, res *Result) error {
	switch p.PaymentType {
	case models.PaymentTypeCredits:
		award, err := r.ledger.AwardCreditsTx(ctx, tx, p.UserID, p.CreditsAmount, p.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("award credits for payment %d: %w", p.ID, err)
		}
		res.CreditsAwarded = award.CreditsAwarded
	case models.PaymentTypeSubscription:
		sub, err := r.ledger.AwardSubscriptionTx(ctx, tx, p.UserID, p.SubscriptionTier, p.DurationDays, p.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("award subscription for payment %d: %w", p.ID, err)
		}
		expires := sub.ExpiresAt
		res.SubscriptionExpiresAt = &expires
	default:
		return fmt.Errorf("payment %d has unknown type %q", p.ID, p.PaymentType)
	}
	return nil
}

func checkAmount(p *models.Payment, amount *EventAmount) error {
	if amount == nil || amount.Value == "" {
		return nil
	}
	got, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return fmt.Errorf("%w: amount %q", ErrInvalidPayload, amount.Value)
	}
	want := decimal.New(p.AmountMinor, -2)
	if !got.Equal(want) {
		return fmt.Errorf("%w: amount %s does not match payment %d amount %s", ErrInvalidPayload, got.StringFixed(2), p.ID, want.StringFixed(2))
	}
	return nil
}
