package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/tax"
)

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) (*models.Payment, error)
	AttachProvider(ctx context.Context, paymentID int64, providerPaymentID, confirmationURL string) error
}

type PaymentService struct {
	payments PaymentStore
	tariffs  *TariffService
	provider payment.Provider
	log      *slog.Logger
}

func NewPaymentService(payments PaymentStore, tariffs *TariffService, provider payment.Provider, log *slog.Logger) *PaymentService {
	return &PaymentService{payments: payments, tariffs: tariffs, provider: provider, log: log}
}

// CreatePayment records a pending payment for the tariff and opens it at the
// provider. The idempotency key travels in the provider metadata so the
// webhook can be matched even before the provider id is attached.
func (s *PaymentService) CreatePayment(ctx context.Context, user *models.User, tariffCode string) (*models.Payment, error) {
	tariff, err := s.tariffs.GetActive(ctx, tariffCode)
	if err != nil {
		return nil, err
	}

	tariffID := tariff.ID
	record := &models.Payment{
		UserID:           user.ID,
		TariffID:         &tariffID,
		Provider:         s.provider.Name(),
		IdempotencyKey:   uuid.NewString(),
		AmountMinor:      tariff.PriceMinorUnits,
		Currency:         tariff.Currency,
		Status:           models.PaymentPending,
		PaymentType:      tariff.PaymentType,
		SubscriptionTier: tariff.SubscriptionTier,
		CreditsAmount:    tariff.Credits,
		DurationDays:     tariff.DurationDays,
	}
	record, err = s.payments.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	intent, err := s.provider.CreatePayment(ctx, payment.CreateRequest{
		IdempotencyKey: record.IdempotencyKey,
		Amount:         tax.FromMinorUnits(record.AmountMinor),
		Currency:       record.Currency,
		Description:    tariff.Title,
		Metadata: map[string]string{
			payment.MetadataIdempotencyKey: record.IdempotencyKey,
			"user_id":                      strconv.FormatInt(user.ID, 10),
			"tariff":                       tariff.Code,
		},
	})
	if err != nil {
		// The pending row stays for audit; it never receives a webhook.
		s.log.Error("provider rejected payment", "payment_id", record.ID, "err", err)
		return nil, fmt.Errorf("create provider payment: %w", err)
	}

	if err := s.payments.AttachProvider(ctx, record.ID, intent.ProviderPaymentID, intent.ConfirmationURL); err != nil {
		return nil, fmt.Errorf("attach provider payment: %w", err)
	}
	record.ProviderPaymentID = intent.ProviderPaymentID
	record.ConfirmationURL = intent.ConfirmationURL

	s.log.Info("payment created",
		"payment_id", record.ID,
		"user_id", user.ID,
		"tariff", tariff.Code,
		"provider_payment_id", intent.ProviderPaymentID,
	)
	return record, nil
}
