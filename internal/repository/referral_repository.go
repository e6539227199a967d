package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGFittingBot/internal/models"
)

const referralColumns = `id, referrer_id, referred_id, credits_awarded, is_awarded, awarded_at, created_at`

func scanReferral(row rowScanner) (*models.Referral, error) {
	var (
		r         models.Referral
		awardedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.CreditsAwarded, &r.IsAwarded, &awardedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.AwardedAt = timePtr(awardedAt)
	return &r, nil
}

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) Create(ctx context.Context, ref *models.Referral) (*models.Referral, error) {
	const query = `INSERT INTO referrals (referrer_id, referred_id, credits_awarded, is_awarded) VALUES (?, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, ref.ReferrerID, ref.ReferredID, ref.CreditsAwarded)
	if err != nil {
		return nil, mapError(fmt.Errorf("insert referral: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("referral last insert id: %w", err)
	}
	ref.ID = id
	return ref, nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID int64) ([]models.Referral, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+referralColumns+` FROM referrals WHERE referrer_id = ? ORDER BY id ASC`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var refs []models.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

func (t *sqlTx) LockPendingReferral(ctx context.Context, referredID int64) (*models.Referral, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+referralColumns+` FROM referrals WHERE referred_id = ? AND is_awarded = 0 FOR UPDATE`, referredID)
	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock referral: %w", err)
	}
	return ref, nil
}

func (t *sqlTx) SaveReferral(ctx context.Context, ref *models.Referral) error {
	const query = `UPDATE referrals SET credits_awarded = ?, is_awarded = ?, awarded_at = ? WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, ref.CreditsAwarded, boolToInt(ref.IsAwarded), ref.AwardedAt, ref.ID); err != nil {
		return fmt.Errorf("save referral: %w", err)
	}
	return nil
}
