package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGFittingBot/internal/models"
)

const tariffColumns = `id, code, title, COALESCE(description, ''), payment_type, COALESCE(subscription_tier, ''), credits, duration_days,
currency, price_minor_units, is_active, created_at, updated_at`

func scanTariff(row rowScanner) (*models.Tariff, error) {
	var (
		t    models.Tariff
		tier string
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Title, &t.Description, &t.PaymentType, &tier, &t.Credits, &t.DurationDays,
		&t.Currency, &t.PriceMinorUnits, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.SubscriptionTier = models.SubscriptionTier(tier)
	return &t, nil
}

type TariffRepository struct {
	db *sql.DB
}

func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

func (r *TariffRepository) list(ctx context.Context, query string) ([]models.Tariff, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tariffs: %w", err)
	}
	defer rows.Close()

	var tariffs []models.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tariff: %w", err)
		}
		tariffs = append(tariffs, *t)
	}
	return tariffs, rows.Err()
}

func (r *TariffRepository) List(ctx context.Context) ([]models.Tariff, error) {
	return r.list(ctx, `SELECT `+tariffColumns+` FROM tariffs ORDER BY id ASC`)
}

func (r *TariffRepository) ListActive(ctx context.Context) ([]models.Tariff, error) {
	return r.list(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE is_active = 1 ORDER BY price_minor_units ASC`)
}

func (r *TariffRepository) getOne(ctx context.Context, where string, arg any) (*models.Tariff, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE `+where, arg)
	t, err := scanTariff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tariff: %w", err)
	}
	return t, nil
}

func (r *TariffRepository) GetByID(ctx context.Context, id int64) (*models.Tariff, error) {
	return r.getOne(ctx, `id = ?`, id)
}

func (r *TariffRepository) GetByCode(ctx context.Context, code string) (*models.Tariff, error) {
	return r.getOne(ctx, `code = ?`, code)
}

func (r *TariffRepository) Create(ctx context.Context, t *models.Tariff) (*models.Tariff, error) {
	const query = `
INSERT INTO tariffs (code, title, description, payment_type, subscription_tier, credits, duration_days, currency, price_minor_units, is_active)
VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, t.Code, t.Title, t.Description, t.PaymentType, string(t.SubscriptionTier),
		t.Credits, t.DurationDays, t.Currency, t.PriceMinorUnits, t.IsActive)
	if err != nil {
		return nil, mapError(fmt.Errorf("create tariff: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tariff last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *TariffRepository) Update(ctx context.Context, t *models.Tariff) (*models.Tariff, error) {
	const query = `
UPDATE tariffs
SET code = ?, title = ?, description = NULLIF(?, ''), payment_type = ?, subscription_tier = NULLIF(?, ''), credits = ?,
    duration_days = ?, currency = ?, price_minor_units = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, t.Code, t.Title, t.Description, t.PaymentType, string(t.SubscriptionTier), t.Credits,
		t.DurationDays, t.Currency, t.PriceMinorUnits, t.IsActive, t.ID); err != nil {
		return nil, mapError(fmt.Errorf("update tariff: %w", err))
	}
	return r.GetByID(ctx, t.ID)
}

func (r *TariffRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tariffs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tariff: %w", err)
	}
	return nil
}
