package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/TGFittingBot/internal/models"
)

const paymentColumns = `p.id, p.user_id, p.tariff_id, p.provider, COALESCE(p.provider_payment_id, ''), p.idempotency_key, p.amount_minor,
p.currency, p.status, p.payment_type, COALESCE(p.subscription_tier, ''), p.credits_amount, p.duration_days,
COALESCE(p.confirmation_url, ''), COALESCE(p.raw_payload, ''), p.created_at, p.paid_at, p.updated_at`

func scanPayment(row rowScanner, extra ...any) (*models.Payment, error) {
	var (
		p        models.Payment
		tariffID sql.NullInt64
		tier     string
		paidAt   sql.NullTime
	)
	dest := []any{&p.ID, &p.UserID, &tariffID, &p.Provider, &p.ProviderPaymentID, &p.IdempotencyKey, &p.AmountMinor,
		&p.Currency, &p.Status, &p.PaymentType, &tier, &p.CreditsAmount, &p.DurationDays,
		&p.ConfirmationURL, &p.RawPayload, &p.CreatedAt, &paidAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if tariffID.Valid {
		p.TariffID = &tariffID.Int64
	}
	p.SubscriptionTier = models.SubscriptionTier(tier)
	p.PaidAt = timePtr(paidAt)
	return &p, nil
}

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	const query = `
INSERT INTO payments (user_id, tariff_id, provider, provider_payment_id, idempotency_key, amount_minor, currency, status,
    payment_type, subscription_tier, credits_amount, duration_days, confirmation_url, raw_payload)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.TariffID, payment.Provider, payment.ProviderPaymentID,
		payment.IdempotencyKey, payment.AmountMinor, payment.Currency, payment.Status, payment.PaymentType,
		string(payment.SubscriptionTier), payment.CreditsAmount, payment.DurationDays, payment.ConfirmationURL, payment.RawPayload)
	if err != nil {
		return nil, mapError(fmt.Errorf("insert payment: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return payment, nil
}

// AttachProvider records the provider-side id and confirmation URL of a
// payment that was created locally first.
func (r *PaymentRepository) AttachProvider(ctx context.Context, paymentID int64, providerPaymentID, confirmationURL string) error {
	const query = `
UPDATE payments SET provider_payment_id = ?, confirmation_url = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, providerPaymentID, confirmationURL, paymentID); err != nil {
		return mapError(fmt.Errorf("attach provider payment: %w", err))
	}
	return nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.idempotency_key = ?`, key)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListForExport(ctx context.Context, f models.PaymentFilter) ([]models.PaymentWithUser, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		conds = append(conds, "p.created_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "p.created_at <= ?")
		args = append(args, *f.To)
	}
	query := `SELECT ` + paymentColumns + `, u.telegram_id, COALESCE(u.username, '')
FROM payments p JOIN users u ON u.id = p.user_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentWithUser
	for rows.Next() {
		var row models.PaymentWithUser
		p, err := scanPayment(rows, &row.TelegramID, &row.Username)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		row.Payment = *p
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *sqlTx) PaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.idempotency_key = ?`, key)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("payment by key: %w", err)
	}
	return p, nil
}

func (t *sqlTx) LockPayment(ctx context.Context, providerPaymentID, idempotencyKey string) (*models.Payment, error) {
	if providerPaymentID != "" {
		p, err := t.lockPaymentWhere(ctx, `p.provider_payment_id = ?`, providerPaymentID)
		if err != nil || p != nil {
			return p, err
		}
	}
	if idempotencyKey != "" {
		return t.lockPaymentWhere(ctx, `p.idempotency_key = ?`, idempotencyKey)
	}
	return nil, nil
}

func (t *sqlTx) lockPaymentWhere(ctx context.Context, where string, arg any) (*models.Payment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE `+where+` LIMIT 1 FOR UPDATE`, arg)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return p, nil
}

// SavePaymentStatus only moves a pending payment; a finalized row is never
// rewritten.
func (t *sqlTx) SavePaymentStatus(ctx context.Context, p *models.Payment) error {
	const query = `
UPDATE payments
SET status = ?, paid_at = ?, provider_payment_id = NULLIF(?, ''), raw_payload = NULLIF(?, ''), updated_at = NOW()
WHERE id = ? AND status = ?`
	res, err := t.tx.ExecContext(ctx, query, p.Status, p.PaidAt, p.ProviderPaymentID, p.RawPayload, p.ID, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("save payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payment %d is no longer pending", p.ID)
	}
	return nil
}
