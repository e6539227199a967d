package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGFittingBot/internal/models"
)

const promoColumns = `id, code, credits, max_uses, uses, created_at`

func scanPromo(row rowScanner) (*models.PromoCode, error) {
	var p models.PromoCode
	if err := row.Scan(&p.ID, &p.Code, &p.Credits, &p.MaxUses, &p.Uses, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = ?`, id)
	promo, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get promo by id: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	var promos []models.PromoCode
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		promos = append(promos, *promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, credits, max_uses, uses)
VALUES (?, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, promo.Code, promo.Credits, promo.MaxUses)
	if err != nil {
		return nil, mapError(fmt.Errorf("create promo: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
UPDATE promo_codes
SET code = ?, credits = ?, max_uses = ?, uses = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, promo.Code, promo.Credits, promo.MaxUses, promo.Uses, promo.ID); err != nil {
		return nil, mapError(fmt.Errorf("update promo: %w", err))
	}
	return r.GetByID(ctx, promo.ID)
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

func (t *sqlTx) LockPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = ? FOR UPDATE`, code)
	promo, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock promo: %w", err)
	}
	return promo, nil
}

// InsertRedemption returns ledger.ErrDuplicate when the user already
// redeemed the code.
func (t *sqlTx) InsertRedemption(ctx context.Context, userID, promoID int64) error {
	const query = `
INSERT INTO promo_redemptions (user_id, promo_code_id)
VALUES (?, ?)`
	if _, err := t.tx.ExecContext(ctx, query, userID, promoID); err != nil {
		return mapError(fmt.Errorf("record redemption: %w", err))
	}
	return nil
}

func (t *sqlTx) SavePromoUses(ctx context.Context, promo *models.PromoCode) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE promo_codes SET uses = ? WHERE id = ?`, promo.Uses, promo.ID); err != nil {
		return fmt.Errorf("update promo uses: %w", err)
	}
	return nil
}
