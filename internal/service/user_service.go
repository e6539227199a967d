package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
)

// ReferralPayloadPrefix marks a referral code in the /start deep-link payload.
const ReferralPayloadPrefix = "ref_"

type UserStore interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UpdateProfile(ctx context.Context, userID int64, username, firstName, lastName string) error
}

type UserService struct {
	users     UserStore
	referrals *referral.Service
	policy    entitlement.Policy
	now       func() time.Time
	log       *slog.Logger
}

// Entitlement is a read-only view of what a user can currently pay with.
type Entitlement struct {
	UserID                int64                   `json:"user_id"`
	BalanceCredits        int                     `json:"balance_credits"`
	SubscriptionTier      models.SubscriptionTier `json:"subscription_tier,omitempty"`
	SubscriptionExpiresAt *time.Time              `json:"subscription_expires_at,omitempty"`
	SubscriptionActive    bool                    `json:"subscription_active"`
	FreemiumUsed          int                     `json:"freemium_used"`
	FreemiumRemaining     int                     `json:"freemium_remaining"`
	ReferralCode          string                  `json:"referral_code"`
}

func NewUserService(users UserStore, referrals *referral.Service, policy entitlement.Policy, log *slog.Logger) *UserService {
	return &UserService{
		users:     users,
		referrals: referrals,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Ensure returns the user for telegramID, creating it on first contact.
// created reports whether this call inserted the row.
func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		user, err := s.users.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, false, fmt.Errorf("find user: %w", err)
		}
		if user != nil {
			if user.Username != username || user.FirstName != firstName || user.LastName != lastName {
				if err := s.users.UpdateProfile(ctx, user.ID, username, firstName, lastName); err != nil {
					return nil, false, fmt.Errorf("update profile: %w", err)
				}
				user.Username, user.FirstName, user.LastName = username, firstName, lastName
			}
			return user, false, nil
		}

		now := s.now()
		user, err = s.users.Create(ctx, &models.User{
			TelegramID:      telegramID,
			Username:        username,
			FirstName:       firstName,
			LastName:        lastName,
			ReferralCode:    referral.NewCode(),
			FreemiumResetAt: &now,
		})
		if err == nil {
			s.log.Info("user created", "user_id", user.ID, "telegram_id", telegramID)
			return user, true, nil
		}
		// Either a concurrent /start created the user or the referral code
		// collided. Both are resolved by looking again.
		if !errors.Is(err, ledger.ErrDuplicate) {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
	}
	return nil, false, fmt.Errorf("create user %d: too many duplicate-key retries", telegramID)
}

// ApplyStartPayload registers the referral carried by a /start deep link.
// Only freshly created users can be referred.
func (s *UserService) ApplyStartPayload(ctx context.Context, user *models.User, created bool, payload string) (*models.Referral, error) {
	payload = strings.TrimSpace(payload)
	if !created || !strings.HasPrefix(payload, ReferralPayloadPrefix) {
		return nil, nil
	}
	return s.referrals.Register(ctx, user.ID, strings.TrimPrefix(payload, ReferralPayloadPrefix))
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ledger.ErrUserNotFound
	}
	return user, nil
}

// Entitlement previews the user's sources without persisting a due freemium
// reset; the ledger does that on the next metered action.
func (s *UserService) Entitlement(ctx context.Context, userID int64) (Entitlement, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	now := s.now()
	s.policy.ResetFreemiumIfDue(user, now)
	return Entitlement{
		UserID:                user.ID,
		BalanceCredits:        user.BalanceCredits,
		SubscriptionTier:      user.SubscriptionTier,
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
		SubscriptionActive:    user.HasActiveSubscription(now),
		FreemiumUsed:          user.FreemiumActionsUsed,
		FreemiumRemaining:     s.policy.FreemiumRemaining(user),
		ReferralCode:          user.ReferralCode,
	}, nil
}
