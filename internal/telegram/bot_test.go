package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/service"
)

func TestNormalizeImageContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name    string
		header  string
		data    []byte
		want    string
		wantErr bool
	}{
		{name: "jpeg header", header: "image/jpeg", want: "image/jpeg"},
		{name: "jpg alias with params", header: "Image/JPG; charset=binary", want: "image/jpeg"},
		{name: "webp", header: "image/webp", want: "image/webp"},
		{name: "octet stream sniffed", header: "application/octet-stream", data: png, want: "image/png"},
		{name: "empty header sniffed", data: png, want: "image/png"},
		{name: "text rejected", header: "text/plain", data: []byte("hello"), wantErr: true},
		{name: "gif rejected", header: "image/gif", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeImageContentType(tt.header, tt.data)
			if tt.wantErr {
				if !errors.Is(err, errReferenceNotImage) {
					t.Fatalf("expected errReferenceNotImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateManagerReferences(t *testing.T) {
	m := NewStateManager()
	if s := m.Get(1); s.State != StateIdle || s.AspectRatio != defaultAspectRatio || s.Resolution != defaultResolution {
		t.Fatalf("unexpected default session: %+v", s)
	}

	for i, url := range []string{"a", "b", "c"} {
		if n := m.AddReference(1, url, 2); n != min(i+1, 2) {
			t.Fatalf("count after %s: got %d", url, n)
		}
	}
	s := m.Get(1)
	if strings.Join(s.ReferenceURLs, ",") != "b,c" {
		t.Fatalf("references: %v", s.ReferenceURLs)
	}

	s.ReferenceURLs[0] = "mutated"
	if m.Get(1).ReferenceURLs[0] != "b" {
		t.Fatal("Get must return a copy")
	}

	m.SetState(1, StateAwaitingPrompt)
	m.ClearReferences(1)
	s = m.Get(1)
	if s.State != StateAwaitingPrompt || len(s.ReferenceURLs) != 0 {
		t.Fatalf("after clear: %+v", s)
	}

	m.Reset(1)
	if m.Get(1).State != StateIdle {
		t.Fatal("reset did not return to idle")
	}
}

func TestBalanceText(t *testing.T) {
	expires := time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC)
	got := balanceText(service.Entitlement{
		BalanceCredits:        42,
		SubscriptionTier:      models.TierPro,
		SubscriptionExpiresAt: &expires,
		SubscriptionActive:    true,
		FreemiumRemaining:     7,
	})
	for _, want := range []string{"Кредиты: 42", "pro до 05.11.2026", "осталось: 7"} {
		if !strings.Contains(got, want) {
			t.Errorf("balance text %q missing %q", got, want)
		}
	}

	got = balanceText(service.Entitlement{BalanceCredits: 0})
	if !strings.Contains(got, "Подписка: нет") {
		t.Errorf("inactive subscription not reported: %q", got)
	}
}

func TestResultCaption(t *testing.T) {
	tests := []struct {
		name   string
		res    service.GenerationResult
		want   string
		marked bool
	}{
		{
			name: "credits",
			res:  service.GenerationResult{Charge: ledger.DeductionResult{Method: entitlement.MethodCredits, CreditsSpent: 1, BalanceAfter: 9}},
			want: "Списано кредитов: 1, осталось: 9",
		},
		{
			name: "subscription",
			res:  service.GenerationResult{Charge: ledger.DeductionResult{Method: entitlement.MethodSubscription}},
			want: "по подписке",
		},
		{
			name:   "freemium",
			res:    service.GenerationResult{Watermark: true, Charge: ledger.DeductionResult{Method: entitlement.MethodFreemium, FreemiumRemaining: 3}},
			want:   "осталось: 3",
			marked: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resultCaption(&tt.res)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("caption %q missing %q", got, tt.want)
			}
			if strings.Contains(got, "водяной знак") != tt.marked {
				t.Fatalf("watermark note mismatch in %q", got)
			}
		})
	}
}

func TestDenialText(t *testing.T) {
	got := denialText(&entitlement.InsufficientError{Reason: entitlement.ReasonInsufficientCredits, Balance: 0, Required: 1})
	if !strings.Contains(got, "на балансе 0, нужно 1") || !strings.Contains(got, "/buy") {
		t.Fatalf("unexpected denial text: %q", got)
	}
}

func TestTariffKeyboard(t *testing.T) {
	kb := tariffKeyboard([]models.Tariff{
		{Code: "credits_100", Title: "100 кредитов", PaymentType: models.PaymentTypeCredits, Credits: 100, Currency: "RUB", PriceMinorUnits: 19900},
		{Code: "pro", Title: "Pro", PaymentType: models.PaymentTypeSubscription, DurationDays: 30, Currency: "RUB", PriceMinorUnits: 49900},
	})
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows: got %d", len(kb.InlineKeyboard))
	}
	first := kb.InlineKeyboard[0][0]
	if first.CallbackData == nil || *first.CallbackData != "buy:credits_100" {
		t.Fatalf("callback data: %v", first.CallbackData)
	}
	if !strings.Contains(first.Text, "199.00 RUB") {
		t.Fatalf("label: %q", first.Text)
	}
	if !strings.Contains(kb.InlineKeyboard[1][0].Text, "30 дн.") {
		t.Fatalf("subscription label: %q", kb.InlineKeyboard[1][0].Text)
	}
}

func TestReferralText(t *testing.T) {
	got := referralText("fitting_bot", "abc123", referral.Stats{Total: 3, Awarded: 1, Pending: 2, CreditsEarned: 10})
	if !strings.Contains(got, "https://t.me/fitting_bot?start=ref_abc123") {
		t.Fatalf("link missing: %q", got)
	}
	if !strings.Contains(got, "Заработано кредитов: 10") {
		t.Fatalf("earned missing: %q", got)
	}
}
