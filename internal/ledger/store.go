package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/digkill/TGFittingBot/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrGenerationNotFound = errors.New("generation not found")
	ErrGenerationFinal    = errors.New("generation already finalized")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidTier        = errors.New("unknown subscription tier")
	ErrMissingKey         = errors.New("idempotency key is required")

	// ErrDuplicate is returned by a Tx when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict marks a transient lock-wait timeout or deadlock. The whole
	// transaction is safe to retry.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store runs fn inside one transaction. Any error returned by fn rolls the
// transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the row-level contract the ledger needs. Lock* methods hold an
// exclusive row lock until the transaction ends.
type Tx interface {
	LockUser(ctx context.Context, userID int64) (*models.User, error)
	SaveUserEntitlement(ctx context.Context, u *models.User) error

	PaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	LockPayment(ctx context.Context, providerPaymentID, idempotencyKey string) (*models.Payment, error)
	SavePaymentStatus(ctx context.Context, p *models.Payment) error

	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)
	InsertEntry(ctx context.Context, e *models.LedgerEntry) error

	LockPendingReferral(ctx context.Context, referredID int64) (*models.Referral, error)
	SaveReferral(ctx context.Context, r *models.Referral) error

	LockGeneration(ctx context.Context, generationID int64) (*models.Generation, error)
	SaveGeneration(ctx context.Context, g *models.Generation) error

	LockPromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	InsertRedemption(ctx context.Context, userID, promoID int64) error
	SavePromoUses(ctx context.Context, p *models.PromoCode) error
}

// FreemiumSweeper resets counters whose window started before cutoff.
type FreemiumSweeper interface {
	ResetStaleFreemium(ctx context.Context, cutoff, now time.Time) (int64, error)
}
