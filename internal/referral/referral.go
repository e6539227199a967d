// Package referral links invited users to their referrer and grants the
// referrer's one-time bonus after the invited user's first completed action.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

const DefaultBonusCredits = 10

var (
	ErrUnknownCode     = errors.New("unknown referral code")
	ErrSelfReferral    = errors.New("users cannot refer themselves")
	ErrAlreadyReferred = errors.New("user was already referred")
)

type UserFinder interface {
	FindByReferralCode(ctx context.Context, code string) (*models.User, error)
}

type Store interface {
	Create(ctx context.Context, r *models.Referral) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID int64) ([]models.Referral, error)
}

type AwardResult struct {
	Awarded    bool  `json:"awarded"`
	Credits    int   `json:"credits,omitempty"`
	ReferrerID int64 `json:"referrer_id,omitempty"`
}

type Stats struct {
	Total         int
	Awarded       int
	Pending       int
	CreditsEarned int
	Referrals     []models.Referral
}

type Service struct {
	ledger    *ledger.Ledger
	users     UserFinder
	referrals Store
	bonus     int
	log       *slog.Logger
}

func NewService(l *ledger.Ledger, users UserFinder, referrals Store, bonus int, log *slog.Logger) *Service {
	if bonus <= 0 {
		bonus = DefaultBonusCredits
	}
	return &Service{ledger: l, users: users, referrals: referrals, bonus: bonus, log: log}
}

// NewCode returns a fresh shareable referral code.
func NewCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// IdempotencyKey derives the ledger key for a referral bonus.
func IdempotencyKey(referralID int64) string {
	return fmt.Sprintf("referral:%d", referralID)
}

// Register links referredID to the owner of code. A user can be referred
// only once.
func (s *Service) Register(ctx context.Context, referredID int64, code string) (*models.Referral, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrUnknownCode
	}
	referrer, err := s.users.FindByReferralCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find referrer: %w", err)
	}
	if referrer == nil {
		return nil, ErrUnknownCode
	}
	if referrer.ID == referredID {
		return nil, ErrSelfReferral
	}

	ref, err := s.referrals.Create(ctx, &models.Referral{
		ReferrerID:     referrer.ID,
		ReferredID:     referredID,
		CreditsAwarded: s.bonus,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return nil, ErrAlreadyReferred
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}
	s.log.Info("referral registered", "referral_id", ref.ID, "referrer_id", referrer.ID, "referred_id", referredID)
	return ref, nil
}

// MaybeAward grants the bonus for the pending referral of referredID, if
// any. Concurrent calls for the same user award at most once.
func (s *Service) MaybeAward(ctx context.Context, referredID int64) (AwardResult, error) {
	var res AwardResult
	err := s.ledger.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		res = AwardResult{}
		ref, err := tx.LockPendingReferral(ctx, referredID)
		if err != nil {
			return err
		}
		if ref == nil {
			return nil
		}

		credits := ref.CreditsAwarded
		if credits <= 0 {
			credits = s.bonus
		}
		award, err := s.ledger.AwardCreditsTx(ctx, tx, ref.ReferrerID, credits, IdempotencyKey(ref.ID))
		if err != nil {
			return fmt.Errorf("award referral %d: %w", ref.ID, err)
		}

		now := s.ledger.Now()
		ref.IsAwarded = true
		ref.AwardedAt = &now
		ref.CreditsAwarded = credits
		if err := tx.SaveReferral(ctx, ref); err != nil {
			return err
		}
		if award.Status == ledger.AwardSuccess {
			res = AwardResult{Awarded: true, Credits: credits, ReferrerID: ref.ReferrerID}
		}
		return nil
	})
	if err != nil {
		return AwardResult{}, err
	}
	if res.Awarded {
		s.log.Info("referral bonus awarded", "referred_id", referredID, "referrer_id", res.ReferrerID, "credits", res.Credits)
	}
	return res, nil
}

func (s *Service) Stats(ctx context.Context, referrerID int64) (Stats, error) {
	refs, err := s.referrals.ListByReferrer(ctx, referrerID)
	if err != nil {
		return Stats{}, fmt.Errorf("list referrals: %w", err)
	}
	st := Stats{Total: len(refs), Referrals: refs}
	for _, r := range refs {
		if r.IsAwarded {
			st.Awarded++
			st.CreditsEarned += r.CreditsAwarded
		} else {
			st.Pending++
		}
	}
	return st, nil
}
