package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGFittingBot/internal/models"
)

type EntryRepository struct {
	db *sql.DB
}

func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// ListByUser returns the newest journal rows of a user first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	const query = `
SELECT id, user_id, kind, method, amount, balance_after, COALESCE(idempotency_key, ''), generation_id, created_at
FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e     models.LedgerEntry
			genID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Method, &e.Amount, &e.BalanceAfter, &e.IdempotencyKey, &genID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if genID.Valid {
			e.GenerationID = &genID.Int64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *sqlTx) EntryExists(ctx context.Context, key string) (bool, error) {
	var exists int
	row := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = ?)`, key)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger entry: %w", err)
	}
	return exists == 1, nil
}

// InsertEntry returns ledger.ErrDuplicate when the idempotency key is taken.
func (t *sqlTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	const query = `
INSERT INTO ledger_entries (user_id, kind, method, amount, balance_after, idempotency_key, generation_id, created_at)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	res, err := t.tx.ExecContext(ctx, query, e.UserID, e.Kind, e.Method, e.Amount, e.BalanceAfter, e.IdempotencyKey, e.GenerationID, e.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("insert ledger entry: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ledger entry last insert id: %w", err)
	}
	e.ID = id
	return nil
}
