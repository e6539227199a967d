package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

var (
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
	ErrPromoNotFound        = errors.New("promo code not found")
)

type PromoStore interface {
	List(ctx context.Context) ([]models.PromoCode, error)
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	Create(ctx context.Context, p *models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, p *models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
}

type PromoService struct {
	ledger *ledger.Ledger
	promos PromoStore
	log    *slog.Logger
}

type PromoInput struct {
	Code    string
	Credits int
	MaxUses int
}

func NewPromoService(l *ledger.Ledger, promos PromoStore, log *slog.Logger) *PromoService {
	return &PromoService{ledger: l, promos: promos, log: log}
}

func PromoIdempotencyKey(promoID, userID int64) string {
	return fmt.Sprintf("promo:%d:%d", promoID, userID)
}

// Redeem grants the promo credits to the user once. The use counter, the
// redemption row and the award commit together.
func (s *PromoService) Redeem(ctx context.Context, userID int64, code string) (ledger.AwardResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ledger.AwardResult{}, ErrPromoInvalid
	}

	var result ledger.AwardResult
	err := s.ledger.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		promo, err := tx.LockPromoByCode(ctx, code)
		if err != nil {
			return err
		}
		if promo == nil {
			return ErrPromoInvalid
		}
		if promo.Uses >= promo.MaxUses {
			return ErrPromoExhausted
		}
		if err := tx.InsertRedemption(ctx, userID, promo.ID); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return ErrPromoAlreadyRedeemed
			}
			return err
		}
		promo.Uses++
		if err := tx.SavePromoUses(ctx, promo); err != nil {
			return err
		}

		result, err = s.ledger.AwardCreditsTx(ctx, tx, userID, promo.Credits, PromoIdempotencyKey(promo.ID, userID))
		if err != nil {
			return err
		}
		if result.Status == ledger.AwardAlreadyProcessed {
			return ErrPromoAlreadyRedeemed
		}
		return nil
	})
	if err != nil {
		return ledger.AwardResult{}, err
	}
	s.log.Info("promo redeemed", "user_id", userID, "code", code, "credits", result.CreditsAwarded)
	return result, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, in PromoInput) (*models.PromoCode, error) {
	p := &models.PromoCode{Code: strings.TrimSpace(in.Code), Credits: in.Credits, MaxUses: in.MaxUses}
	if err := validatePromo(p); err != nil {
		return nil, err
	}
	return s.promos.Create(ctx, p)
}

func (s *PromoService) Update(ctx context.Context, id int64, in PromoInput) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPromoNotFound
	}
	if c := strings.TrimSpace(in.Code); c != "" {
		existing.Code = c
	}
	if in.Credits > 0 {
		existing.Credits = in.Credits
	}
	if in.MaxUses > 0 {
		existing.MaxUses = in.MaxUses
	}
	if err := validatePromo(existing); err != nil {
		return nil, err
	}
	return s.promos.Update(ctx, existing)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}

func validatePromo(p *models.PromoCode) error {
	if p.Code == "" {
		return fmt.Errorf("%w: code is required", ErrPromoInvalid)
	}
	if p.Credits <= 0 || p.MaxUses <= 0 {
		return fmt.Errorf("%w: credits and max uses must be positive", ErrPromoInvalid)
	}
	return nil
}
