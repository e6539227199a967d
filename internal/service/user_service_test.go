package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/service"
)

func TestEnsureCreatesOnceAndUpdatesProfile(t *testing.T) {
	e := newEnv(t)
	svc := service.NewUserService(e.store.Users(), e.referrals, entitlement.DefaultPolicy(), e.log)

	u, created, err := svc.Ensure(context.Background(), 42, "anna", "Anna", "")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	if u.ReferralCode == "" || u.FreemiumResetAt == nil {
		t.Fatalf("new user missing defaults: %+v", u)
	}

	again, created, err := svc.Ensure(context.Background(), 42, "anna_k", "Anna", "K")
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
	if again.ID != u.ID || again.Username != "anna_k" {
		t.Fatalf("second ensure returned %+v", again)
	}
	if stored := e.user(t, u.ID); stored.LastName != "K" {
		t.Errorf("profile not updated: %+v", stored)
	}
}

func TestApplyStartPayload(t *testing.T) {
	e := newEnv(t)
	svc := service.NewUserService(e.store.Users(), e.referrals, entitlement.DefaultPolicy(), e.log)
	ctx := context.Background()

	referrer, _, _ := svc.Ensure(ctx, 1, "a", "", "")
	invited, created, _ := svc.Ensure(ctx, 2, "b", "", "")

	ref, err := svc.ApplyStartPayload(ctx, invited, created, "ref_"+referrer.ReferralCode)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ref == nil || ref.ReferrerID != referrer.ID || ref.ReferredID != invited.ID {
		t.Fatalf("referral: %+v", ref)
	}

	if ref, err := svc.ApplyStartPayload(ctx, referrer, false, "ref_"+invited.ReferralCode); ref != nil || err != nil {
		t.Errorf("existing user must not be referred: %+v %v", ref, err)
	}
	if ref, err := svc.ApplyStartPayload(ctx, invited, true, "promo"); ref != nil || err != nil {
		t.Errorf("non-referral payload: %+v %v", ref, err)
	}

	self, created, _ := svc.Ensure(ctx, 3, "c", "", "")
	if _, err := svc.ApplyStartPayload(ctx, self, created, "ref_"+self.ReferralCode); !errors.Is(err, referral.ErrSelfReferral) {
		t.Errorf("self referral: got %v", err)
	}
}

func TestEntitlementPreviewsDueReset(t *testing.T) {
	e := newEnv(t)
	svc := service.NewUserService(e.store.Users(), e.referrals, entitlement.DefaultPolicy(), e.log)

	old := time.Now().Add(-40 * 24 * time.Hour)
	expires := time.Now().Add(24 * time.Hour)
	u := e.addUser(t, models.User{
		TelegramID:            1,
		BalanceCredits:        4,
		SubscriptionTier:      models.TierBasic,
		SubscriptionExpiresAt: &expires,
		FreemiumActionsUsed:   9,
		FreemiumResetAt:       &old,
	})

	view, err := svc.Entitlement(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("entitlement: %v", err)
	}
	if view.BalanceCredits != 4 || !view.SubscriptionActive || view.FreemiumRemaining != entitlement.DefaultPolicy().FreemiumLimit {
		t.Fatalf("view: %+v", view)
	}
	if stored := e.user(t, u.ID); stored.FreemiumActionsUsed != 9 {
		t.Errorf("preview persisted the reset: %+v", stored)
	}

	if _, err := svc.Entitlement(context.Background(), 999); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("unknown user: got %v", err)
	}
}
