package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/TGFittingBot/internal/models"
)

var (
	ErrTariffNotFound = errors.New("tariff not found")
	ErrInvalidTariff  = errors.New("invalid tariff")
)

type TariffStore interface {
	List(ctx context.Context) ([]models.Tariff, error)
	ListActive(ctx context.Context) ([]models.Tariff, error)
	GetByID(ctx context.Context, id int64) (*models.Tariff, error)
	GetByCode(ctx context.Context, code string) (*models.Tariff, error)
	Create(ctx context.Context, t *models.Tariff) (*models.Tariff, error)
	Update(ctx context.Context, t *models.Tariff) (*models.Tariff, error)
	Delete(ctx context.Context, id int64) error
}

type TariffService struct {
	repo         TariffStore
	currency     string
	durationDays int
}

type CreateTariffInput struct {
	Code             string
	Title            string
	Description      string
	PaymentType      models.PaymentType
	SubscriptionTier models.SubscriptionTier
	Credits          int
	DurationDays     int
	Currency         string
	PriceMinorUnits  int64
	IsActive         *bool
}

type UpdateTariffInput struct {
	Title           *string
	Description     *string
	Currency        *string
	PriceMinorUnits *int64
	Credits         *int
	DurationDays    *int
	IsActive        *bool
}

func NewTariffService(repo TariffStore, currency string, durationDays int) *TariffService {
	if currency == "" {
		currency = "RUB"
	}
	if durationDays <= 0 {
		durationDays = 30
	}
	return &TariffService{repo: repo, currency: currency, durationDays: durationDays}
}

// DefaultTariffs is the catalog seeded into an empty database.
func (s *TariffService) DefaultTariffs() []CreateTariffInput {
	sub := func(code, title string, tier models.SubscriptionTier, price int64) CreateTariffInput {
		return CreateTariffInput{
			Code:             code,
			Title:            title,
			PaymentType:      models.PaymentTypeSubscription,
			SubscriptionTier: tier,
			DurationDays:     s.durationDays,
			PriceMinorUnits:  price,
		}
	}
	return []CreateTariffInput{
		sub("basic", "Basic", models.TierBasic, 29900),
		sub("pro", "Pro", models.TierPro, 49900),
		sub("premium", "Premium", models.TierPremium, 89900),
		{
			Code:            "credits_100",
			Title:           "100 credits",
			PaymentType:     models.PaymentTypeCredits,
			Credits:         100,
			PriceMinorUnits: 19900,
		},
	}
}

// SeedDefaults creates the default tariffs that are missing by code.
func (s *TariffService) SeedDefaults(ctx context.Context) error {
	for _, in := range s.DefaultTariffs() {
		existing, err := s.repo.GetByCode(ctx, in.Code)
		if err != nil {
			return fmt.Errorf("get tariff %s: %w", in.Code, err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.Create(ctx, in); err != nil {
			return fmt.Errorf("seed tariff %s: %w", in.Code, err)
		}
	}
	return nil
}

func (s *TariffService) List(ctx context.Context) ([]models.Tariff, error) {
	return s.repo.List(ctx)
}

func (s *TariffService) ListActive(ctx context.Context) ([]models.Tariff, error) {
	return s.repo.ListActive(ctx)
}

// GetActive returns a purchasable tariff by code.
func (s *TariffService) GetActive(ctx context.Context, code string) (*models.Tariff, error) {
	t, err := s.repo.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("get tariff: %w", err)
	}
	if t == nil || !t.IsActive {
		return nil, ErrTariffNotFound
	}
	return t, nil
}

func (s *TariffService) Create(ctx context.Context, in CreateTariffInput) (*models.Tariff, error) {
	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	if in.Currency == "" {
		in.Currency = s.currency
	}
	if in.PaymentType == models.PaymentTypeSubscription && in.DurationDays <= 0 {
		in.DurationDays = s.durationDays
	}
	t := &models.Tariff{
		Code:             strings.TrimSpace(in.Code),
		Title:            in.Title,
		Description:      in.Description,
		PaymentType:      in.PaymentType,
		SubscriptionTier: in.SubscriptionTier,
		Credits:          in.Credits,
		DurationDays:     in.DurationDays,
		Currency:         in.Currency,
		PriceMinorUnits:  in.PriceMinorUnits,
		IsActive:         isActive,
	}
	if err := validateTariff(t); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, t)
}

func (s *TariffService) Update(ctx context.Context, id int64, in UpdateTariffInput) (*models.Tariff, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrTariffNotFound
	}
	if in.Title != nil {
		existing.Title = *in.Title
	}
	if in.Description != nil {
		existing.Description = *in.Description
	}
	if in.Currency != nil && *in.Currency != "" {
		existing.Currency = *in.Currency
	}
	if in.PriceMinorUnits != nil {
		existing.PriceMinorUnits = *in.PriceMinorUnits
	}
	if in.Credits != nil {
		existing.Credits = *in.Credits
	}
	if in.DurationDays != nil {
		existing.DurationDays = *in.DurationDays
	}
	if in.IsActive != nil {
		existing.IsActive = *in.IsActive
	}
	if err := validateTariff(existing); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, existing)
}

func (s *TariffService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func validateTariff(t *models.Tariff) error {
	if t.Code == "" || t.Title == "" {
		return fmt.Errorf("%w: code and title are required", ErrInvalidTariff)
	}
	if t.PriceMinorUnits <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidTariff)
	}
	switch t.PaymentType {
	case models.PaymentTypeCredits:
		if t.Credits <= 0 {
			return fmt.Errorf("%w: credits must be positive", ErrInvalidTariff)
		}
	case models.PaymentTypeSubscription:
		if !t.SubscriptionTier.Valid() {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidTariff, t.SubscriptionTier)
		}
		if t.DurationDays <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrInvalidTariff)
		}
	default:
		return fmt.Errorf("%w: unknown payment type %q", ErrInvalidTariff, t.PaymentType)
	}
	return nil
}
