// Package ledger is the only writer of user balances, freemium counters and
// subscription fields. Every operation runs in one store transaction with the
// user row locked, so the entitlement decision is re-validated against the
// state it is applied to.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/models"
)

type AwardStatus string

const (
	AwardSuccess          AwardStatus = "success"
	AwardAlreadyProcessed AwardStatus = "already_processed"
)

type DeductionResult struct {
	Method            entitlement.Method `json:"method"`
	CreditsSpent      int                `json:"credits_spent"`
	BalanceAfter      int                `json:"balance_after"`
	FreemiumRemaining int                `json:"freemium_remaining"`
	Watermark         bool               `json:"watermark"`
}

type AwardResult struct {
	Status         AwardStatus `json:"status"`
	CreditsAwarded int         `json:"credits_awarded"`
	BalanceAfter   int         `json:"balance_after"`
}

type SubscriptionResult struct {
	Status    AwardStatus             `json:"status"`
	Tier      models.SubscriptionTier `json:"tier"`
	ExpiresAt time.Time               `json:"expires_at"`
}

type Ledger struct {
	store      Store
	policy     entitlement.Policy
	log        *slog.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

func New(store Store, policy entitlement.Policy, log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		policy:     policy,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time { return l.now() }

func (l *Ledger) Policy() entitlement.Policy { return l.policy }

// Atomic runs fn in a store transaction and retries the whole transaction on
// ErrConflict, up to the configured number of retries.
func (l *Ledger) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := l.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			l.log.Warn("ledger transaction conflict", "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.maxRetries)), ctx))
}

// Resolve re-reads the user under lock, decides the payment method and
// persists a freemium reset even when the action is denied.
func (l *Ledger) Resolve(ctx context.Context, userID int64, cost int) (entitlement.Decision, error) {
	var (
		decision entitlement.Decision
		denial   error
	)
	err := l.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		denial = nil
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		decision, err = l.policy.Resolve(user, cost, l.now())
		if denial, err = splitDenial(err); err != nil {
			return err
		}
		if decision.FreemiumReset {
			if err := tx.SaveUserEntitlement(ctx, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return entitlement.Decision{}, err
	}
	return decision, denial
}

// Deduct charges a metered action that has already succeeded externally.
func (l *Ledger) Deduct(ctx context.Context, userID int64, cost int) (DeductionResult, error) {
	var (
		result DeductionResult
		denial error
	)
	err := l.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.deductTx(ctx, tx, userID, cost, nil)
		denial, err = splitDenial(err)
		return err
	})
	if err != nil {
		return DeductionResult{}, err
	}
	if denial != nil {
		return DeductionResult{}, denial
	}
	return result, nil
}

// CompleteGeneration marks a generation completed and charges for it in the
// same transaction, so credits_spent and the balance change land together.
// On denial the generation is left untouched.
func (l *Ledger) CompleteGeneration(ctx context.Context, generationID int64, cost int, imageURL string) (DeductionResult, error) {
	var (
		result DeductionResult
		denial error
	)
	err := l.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		gen, err := tx.LockGeneration(ctx, generationID)
		if err != nil {
			return err
		}
		if gen.Status == models.GenerationCompleted || gen.Status == models.GenerationFailed {
			return ErrGenerationFinal
		}
		id := gen.ID
		result, err = l.deductTx(ctx, tx, gen.UserID, cost, &id)
		if denial, err = splitDenial(err); err != nil || denial != nil {
			return err
		}
		gen.Status = models.GenerationCompleted
		gen.PaymentMethod = string(result.Method)
		gen.HasWatermark = result.Watermark
		gen.CreditsSpent = result.CreditsSpent
		gen.ImageURL = imageURL
		gen.UpdatedAt = l.now()
		return tx.SaveGeneration(ctx, gen)
	})
	if err != nil {
		return DeductionResult{}, err
	}
	if denial != nil {
		return DeductionResult{}, denial
	}
	return result, nil
}

// splitDenial separates an entitlement denial, which still commits the
// transaction, from real failures.
func splitDenial(err error) (denial error, failure error) {
	var insufficient *entitlement.InsufficientError
	if errors.As(err, &insufficient) {
		return err, nil
	}
	return nil, err
}

func (l *Ledger) deductTx(ctx context.Context, tx Tx, userID int64, cost int, generationID *int64) (DeductionResult, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return DeductionResult{}, err
	}
	decision, err := l.policy.Resolve(user, cost, l.now())
	if err != nil {
		if decision.FreemiumReset {
			if saveErr := tx.SaveUserEntitlement(ctx, user); saveErr != nil {
				return DeductionResult{}, saveErr
			}
		}
		return DeductionResult{}, err
	}

	entry := &models.LedgerEntry{
		UserID:       user.ID,
		Kind:         models.EntryDeduct,
		Method:       string(decision.Method),
		GenerationID: generationID,
		CreatedAt:    l.now(),
	}
	result := DeductionResult{Method: decision.Method, Watermark: decision.Watermark()}

	switch decision.Method {
	case entitlement.MethodCredits:
		user.BalanceCredits -= cost
		result.CreditsSpent = cost
		entry.Amount = cost
	case entitlement.MethodSubscription:
	case entitlement.MethodFreemium:
		user.FreemiumActionsUsed++
		entry.Amount = 1
	}
	if user.BalanceCredits < 0 {
		return DeductionResult{}, fmt.Errorf("deduct for user %d: balance would become negative", user.ID)
	}

	if err := tx.SaveUserEntitlement(ctx, user); err != nil {
		return DeductionResult{}, err
	}
	entry.BalanceAfter = user.BalanceCredits
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return DeductionResult{}, err
	}

	result.BalanceAfter = user.BalanceCredits
	result.FreemiumRemaining = l.policy.FreemiumRemaining(user)

	l.log.Info("action charged",
		"user_id", user.ID,
		"method", decision.Method,
		"credits_spent", result.CreditsSpent,
		"balance_after", result.BalanceAfter,
	)
	return result, nil
}

// AwardCredits adds credits at most once per idempotency key.
func (l *Ledger) AwardCredits(ctx context.Context, userID int64, amount int, idempotencyKey string) (AwardResult, error) {
	var result AwardResult
	err := l.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.AwardCreditsTx(ctx, tx, userID, amount, idempotencyKey)
		return err
	})
	if err != nil {
		return AwardResult{}, err
	}
	return result, nil
}

// AwardCreditsTx is AwardCredits inside a caller-owned transaction.
func (l *Ledger) AwardCreditsTx(ctx context.Context, tx Tx, userID int64, amount int, idempotencyKey string) (AwardResult, error) {
	if amount <= 0 {
		return AwardResult{}, ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return AwardResult{}, ErrMissingKey
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return AwardResult{}, err
	}

	processed, err := l.alreadyProcessed(ctx, tx, idempotencyKey)
	if err != nil {
		return AwardResult{}, err
	}
	if processed {
		return AwardResult{Status: AwardAlreadyProcessed, BalanceAfter: user.BalanceCredits}, nil
	}

	user.BalanceCredits += amount
	entry := &models.LedgerEntry{
		UserID:         user.ID,
		Kind:           models.EntryAward,
		Method:         string(entitlement.MethodCredits),
		Amount:         amount,
		BalanceAfter:   user.BalanceCredits,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      l.now(),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return AwardResult{Status: AwardAlreadyProcessed, BalanceAfter: user.BalanceCredits - amount}, nil
		}
		return AwardResult{}, err
	}
	if err := tx.SaveUserEntitlement(ctx, user); err != nil {
		return AwardResult{}, err
	}

	l.log.Info("credits awarded", "user_id", user.ID, "amount", amount, "key", idempotencyKey, "balance_after", user.BalanceCredits)
	return AwardResult{Status: AwardSuccess, CreditsAwarded: amount, BalanceAfter: user.BalanceCredits}, nil
}

func (l *Ledger) alreadyProcessed(ctx context.Context, tx Tx, key string) (bool, error) {
	payment, err := tx.PaymentByIdempotencyKey(ctx, key)
	if err != nil {
		return false, err
	}
	if payment != nil && payment.Status == models.PaymentSucceeded {
		return true, nil
	}
	return tx.EntryExists(ctx, key)
}

// AwardSubscription grants or extends a subscription. Remaining time of an
// unexpired subscription is kept and the tier is replaced.
func (l *Ledger) AwardSubscription(ctx context.Context, userID int64, tier models.SubscriptionTier, durationDays int) (SubscriptionResult, error) {
	var result SubscriptionResult
	err := l.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.AwardSubscriptionTx(ctx, tx, userID, tier, durationDays, "")
		return err
	})
	if err != nil {
		return SubscriptionResult{}, err
	}
	return result, nil
}

// AwardSubscriptionTx is AwardSubscription inside a caller-owned
// transaction. A non-empty key makes the grant idempotent.
func (l *Ledger) AwardSubscriptionTx(ctx context.Context, tx Tx, userID int64, tier models.SubscriptionTier, durationDays int, idempotencyKey string) (SubscriptionResult, error) {
	if !tier.Valid() {
		return SubscriptionResult{}, ErrInvalidTier
	}
	if durationDays <= 0 {
		return SubscriptionResult{}, ErrInvalidAmount
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return SubscriptionResult{}, err
	}

	if idempotencyKey != "" {
		processed, err := l.alreadyProcessed(ctx, tx, idempotencyKey)
		if err != nil {
			return SubscriptionResult{}, err
		}
		if processed {
			return alreadyGranted(user), nil
		}
	}

	now := l.now()
	period := time.Duration(durationDays) * 24 * time.Hour
	var expires time.Time
	if user.SubscriptionExpiresAt != nil && user.SubscriptionExpiresAt.After(now) {
		expires = user.SubscriptionExpiresAt.Add(period)
	} else {
		expires = now.Add(period)
	}

	entry := &models.LedgerEntry{
		UserID:         user.ID,
		Kind:           models.EntrySubscription,
		Method:         string(tier),
		Amount:         durationDays,
		BalanceAfter:   user.BalanceCredits,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return alreadyGranted(user), nil
		}
		return SubscriptionResult{}, err
	}

	user.SubscriptionTier = tier
	user.SubscriptionExpiresAt = &expires
	if err := tx.SaveUserEntitlement(ctx, user); err != nil {
		return SubscriptionResult{}, err
	}

	l.log.Info("subscription awarded", "user_id", user.ID, "tier", tier, "days", durationDays, "expires_at", expires)
	return SubscriptionResult{Status: AwardSuccess, Tier: tier, ExpiresAt: expires}, nil
}

func alreadyGranted(u *models.User) SubscriptionResult {
	res := SubscriptionResult{Status: AwardAlreadyProcessed, Tier: u.SubscriptionTier}
	if u.SubscriptionExpiresAt != nil {
		res.ExpiresAt = *u.SubscriptionExpiresAt
	}
	return res
}
