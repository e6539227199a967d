package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/service"
)

func newPromo(t *testing.T, e *env, in service.PromoInput) (*service.PromoService, *models.PromoCode) {
	t.Helper()
	svc := service.NewPromoService(e.ledger, e.store.Promos(), e.log)
	p, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create promo: %v", err)
	}
	return svc, p
}

func TestRedeemPromoOncePerUser(t *testing.T) {
	e := newEnv(t)
	u := e.addUser(t, models.User{TelegramID: 1})
	svc, promo := newPromo(t, e, service.PromoInput{Code: "SPRING", Credits: 15, MaxUses: 10})

	res, err := svc.Redeem(context.Background(), u.ID, "spring")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.CreditsAwarded != 15 || res.BalanceAfter != 15 {
		t.Fatalf("result: %+v", res)
	}

	if _, err := svc.Redeem(context.Background(), u.ID, "SPRING"); !errors.Is(err, service.ErrPromoAlreadyRedeemed) {
		t.Fatalf("second redeem: got %v, want ErrPromoAlreadyRedeemed", err)
	}
	if got := e.user(t, u.ID).BalanceCredits; got != 15 {
		t.Errorf("balance: got %d, want 15", got)
	}

	stored, _ := e.store.Promos().GetByID(context.Background(), promo.ID)
	if stored.Uses != 1 {
		t.Errorf("uses: got %d, want 1", stored.Uses)
	}
	entries := e.store.Entries(u.ID)
	if len(entries) != 1 || entries[0].IdempotencyKey != service.PromoIdempotencyKey(promo.ID, u.ID) {
		t.Errorf("journal: %+v", entries)
	}
}

func TestRedeemPromoErrors(t *testing.T) {
	e := newEnv(t)
	u := e.addUser(t, models.User{TelegramID: 1})
	other := e.addUser(t, models.User{TelegramID: 2})
	svc, _ := newPromo(t, e, service.PromoInput{Code: "ONE", Credits: 5, MaxUses: 1})

	if _, err := svc.Redeem(context.Background(), u.ID, "ONE"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	tests := []struct {
		name   string
		userID int64
		code   string
		want   error
	}{
		{name: "unknown code", userID: u.ID, code: "NOPE", want: service.ErrPromoInvalid},
		{name: "blank code", userID: u.ID, code: " ", want: service.ErrPromoInvalid},
		{name: "exhausted", userID: other.ID, code: "ONE", want: service.ErrPromoExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Redeem(context.Background(), tt.userID, tt.code); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if got := e.user(t, other.ID).BalanceCredits; got != 0 {
		t.Errorf("exhausted redeem changed balance to %d", got)
	}
}

func TestRedeemPromoConcurrentLastUse(t *testing.T) {
	e := newEnv(t)
	svc, promo := newPromo(t, e, service.PromoInput{Code: "LAST", Credits: 7, MaxUses: 1})

	var users []int64
	for i := 0; i < 8; i++ {
		users = append(users, e.addUser(t, models.User{TelegramID: int64(100 + i)}).ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, id := range users {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := svc.Redeem(context.Background(), id, "LAST"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("successful redemptions: got %d, want 1", success)
	}
	stored, _ := e.store.Promos().GetByID(context.Background(), promo.ID)
	if stored.Uses != 1 {
		t.Errorf("uses: got %d, want 1", stored.Uses)
	}
}

func TestPromoValidation(t *testing.T) {
	e := newEnv(t)
	svc := service.NewPromoService(e.ledger, e.store.Promos(), e.log)
	for _, in := range []service.PromoInput{
		{Code: "", Credits: 1, MaxUses: 1},
		{Code: "X", Credits: 0, MaxUses: 1},
		{Code: "X", Credits: 1, MaxUses: 0},
	} {
		if _, err := svc.Create(context.Background(), in); !errors.Is(err, service.ErrPromoInvalid) {
			t.Errorf("%+v: got %v, want ErrPromoInvalid", in, err)
		}
	}
	if _, err := svc.Update(context.Background(), 999, service.PromoInput{Credits: 3}); !errors.Is(err, service.ErrPromoNotFound) {
		t.Errorf("update missing: got %v", err)
	}
}
