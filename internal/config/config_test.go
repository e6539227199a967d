package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/fitting")
	t.Setenv("KIE_API_KEY", "kie")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec")
	t.Setenv("PAYMENT_MOCK_MODE", "true")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FreemiumActionsPerMonth != 10 || cfg.FreemiumPeriod != 30*24*time.Hour {
		t.Errorf("freemium: %d / %s", cfg.FreemiumActionsPerMonth, cfg.FreemiumPeriod)
	}
	if cfg.ReferralBonusCredits != 10 || cfg.GenerationCostCredits != 1 || cfg.LedgerMaxRetries != 3 {
		t.Errorf("tunables: %+v", cfg)
	}
	if cfg.FreemiumSweepInterval != time.Hour {
		t.Errorf("sweep interval: %s", cfg.FreemiumSweepInterval)
	}
	if cfg.S3Enabled() {
		t.Errorf("S3 must be disabled without credentials")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "")
	t.Setenv("PAYMENT_MOCK_MODE", "false")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"PAYMENT_WEBHOOK_SECRET", "YOOKASSA_SHOP_ID", "YOOKASSA_SECRET_KEY"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadRejectsInvalidTunables(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero cost", key: "GENERATION_COST_CREDITS", val: "0"},
		{name: "zero period", key: "FREEMIUM_PERIOD_DAYS", val: "0"},
		{name: "unknown provider", key: "PAYMENT_PROVIDER", val: "stripe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	setRequired(t)
	t.Cleanup(func() { os.Unsetenv("REFERRAL_BONUS_CREDITS") })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("REFERRAL_BONUS_CREDITS=25\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CONFIG_ENV_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReferralBonusCredits != 25 {
		t.Errorf("referral bonus: got %d, want 25", cfg.ReferralBonusCredits)
	}
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	tests := map[string]string{
		"":                    "https://api.kie.ai",
		"kie.ai":              "https://api.kie.ai",
		"https://kie.ai":      "https://api.kie.ai",
		"http://localhost:99": "http://localhost:99",
	}
	for in, want := range tests {
		if got := normalizeKIEBaseURL(in, "https://api.kie.ai"); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}
