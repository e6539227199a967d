package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), referral_code,
balance_credits, COALESCE(subscription_tier, ''), subscription_expires_at, freemium_actions_used, freemium_reset_at, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		tier    string
		expires sql.NullTime
		reset   sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.ReferralCode,
		&u.BalanceCredits, &tier, &expires, &u.FreemiumActionsUsed, &reset, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.SubscriptionTier = models.SubscriptionTier(tier)
	u.SubscriptionExpiresAt = timePtr(expires)
	u.FreemiumResetAt = timePtr(reset)
	return &u, nil
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, `id = ?`, id)
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.findOne(ctx, `telegram_id = ?`, telegramID)
}

func (r *UserRepository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.findOne(ctx, `referral_code = ?`, code)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, username, first_name, last_name, referral_code, balance_credits, freemium_actions_used, freemium_reset_at)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, user.TelegramID, user.Username, user.FirstName, user.LastName, user.ReferralCode,
		user.BalanceCredits, user.FreemiumActionsUsed, user.FreemiumResetAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("insert user: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName, lastName string) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, lastName, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (r *UserRepository) ResetStaleFreemium(ctx context.Context, cutoff, now time.Time) (int64, error) {
	const query = `
UPDATE users SET freemium_actions_used = 0, freemium_reset_at = ?
WHERE freemium_reset_at IS NULL OR freemium_reset_at <= ?`
	res, err := r.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale freemium: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("freemium rows affected: %w", err)
	}
	return n, nil
}

func (t *sqlTx) LockUser(ctx context.Context, userID int64) (*models.User, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return u, nil
}

func (t *sqlTx) SaveUserEntitlement(ctx context.Context, u *models.User) error {
	const query = `
UPDATE users
SET balance_credits = ?, subscription_tier = NULLIF(?, ''), subscription_expires_at = ?,
    freemium_actions_used = ?, freemium_reset_at = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, u.BalanceCredits, string(u.SubscriptionTier), u.SubscriptionExpiresAt,
		u.FreemiumActionsUsed, u.FreemiumResetAt, u.ID); err != nil {
		return fmt.Errorf("save user entitlement: %w", err)
	}
	return nil
}
