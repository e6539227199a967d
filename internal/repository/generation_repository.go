package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

const generationColumns = `id, user_id, prompt, status, COALESCE(payment_method, ''), credits_spent, has_watermark,
COALESCE(image_url, ''), COALESCE(error_message, ''), created_at, updated_at`

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var g models.Generation
	if err := row.Scan(&g.ID, &g.UserID, &g.Prompt, &g.Status, &g.PaymentMethod, &g.CreditsSpent, &g.HasWatermark,
		&g.ImageURL, &g.ErrorMessage, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) (*models.Generation, error) {
	const query = `
INSERT INTO generations (user_id, prompt, status, has_watermark)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, g.UserID, g.Prompt, g.Status, boolToInt(g.HasWatermark))
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("generation last insert id: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *GenerationRepository) FindByID(ctx context.Context, id int64) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (t *sqlTx) LockGeneration(ctx context.Context, generationID int64) (*models.Generation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ? FOR UPDATE`, generationID)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrGenerationNotFound
		}
		return nil, fmt.Errorf("lock generation: %w", err)
	}
	return g, nil
}

func (t *sqlTx) SaveGeneration(ctx context.Context, g *models.Generation) error {
	const query = `
UPDATE generations
SET status = ?, payment_method = NULLIF(?, ''), credits_spent = ?, has_watermark = ?,
    image_url = NULLIF(?, ''), error_message = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, g.Status, g.PaymentMethod, g.CreditsSpent, boolToInt(g.HasWatermark),
		g.ImageURL, g.ErrorMessage, g.ID); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	return nil
}
