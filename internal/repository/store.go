package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/TGFittingBot/internal/ledger"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type rowScanner interface {
	Scan(dest ...any) error
}

// Store runs ledger transactions on MySQL. Lock* methods use
// SELECT ... FOR UPDATE, so the row stays locked until commit or rollback.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

// mapError translates driver errors into the ledger's sentinel errors while
// keeping the original in the chain.
func mapError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errDuplicateEntry:
		if errors.Is(err, ledger.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("%w: %w", ledger.ErrDuplicate, err)
	case errDeadlock, errLockWaitTimeout:
		if errors.Is(err, ledger.ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	default:
		return err
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
