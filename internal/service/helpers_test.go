package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/kie"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/repository/memory"
)

type env struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	referrals *referral.Service
	log       *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	l := ledger.New(store, entitlement.DefaultPolicy(), log)
	return &env{
		store:     store,
		ledger:    l,
		referrals: referral.NewService(l, store.Users(), store.Referrals(), referral.DefaultBonusCredits, log),
		log:       log,
	}
}

func (e *env) addUser(t *testing.T, u models.User) *models.User {
	t.Helper()
	if u.FreemiumResetAt == nil {
		now := time.Now().UTC()
		u.FreemiumResetAt = &now
	}
	created, err := e.store.Users().Create(context.Background(), &u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func (e *env) user(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := e.store.Users().FindByID(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("find user %d: %v", id, err)
	}
	return u
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	// during runs while the provider call is in flight.
	during func()
}

func (f *fakeGenerator) Generate(_ context.Context, req kie.Request) (*kie.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Prompt == "" {
		return nil, errors.New("empty prompt")
	}
	return &kie.Image{URL: "https://img.example/out.png", TaskID: "task"}, nil
}
