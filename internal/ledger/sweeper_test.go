package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/repository/memory"
)

func TestSweepOnceResetsStaleWindows(t *testing.T) {
	store := memory.New()
	stale := addUser(t, store, models.User{TelegramID: 1, FreemiumActionsUsed: 8, FreemiumResetAt: ptr(time.Now().Add(-31 * 24 * time.Hour))})
	fresh := addUser(t, store, models.User{TelegramID: 2, FreemiumActionsUsed: 3, FreemiumResetAt: ptr(time.Now().Add(-time.Hour))})

	s := ledger.NewSweeper(store, 30*24*time.Hour, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset count: got %d, want 1", n)
	}

	u, _ := store.Users().FindByID(context.Background(), stale)
	if u.FreemiumActionsUsed != 0 {
		t.Errorf("stale user not reset: %d", u.FreemiumActionsUsed)
	}
	u, _ = store.Users().FindByID(context.Background(), fresh)
	if u.FreemiumActionsUsed != 3 {
		t.Errorf("fresh user reset: %d", u.FreemiumActionsUsed)
	}
}
