package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken          string
	MySQLDSN          string
	MySQLMaxOpenConns int
	LogLevel          string

	KIEAPIKey      string
	KIEBaseURL     string
	KIEModel       string
	RequestTimeout time.Duration

	FreemiumActionsPerMonth  int
	FreemiumPeriod           time.Duration
	FreemiumSweepInterval    time.Duration
	GenerationCostCredits    int
	ReferralBonusCredits     int
	SubscriptionDurationDays int
	LedgerMaxRetries         int

	PaymentProvider      string
	PaymentMockMode      bool
	PaymentCurrency      string
	PaymentWebhookSecret string
	YooKassaShopID       string
	YooKassaSecretKey    string
	YooKassaReturnURL    string
	YooKassaBaseURL      string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string
	PublicBaseURL   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	S3ExportPrefix  string
}

// S3Enabled reports whether object storage is fully configured.
func (c Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != "" && c.S3PublicBaseURL != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		MySQLMaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 10),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		KIEBaseURL:     normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:       getEnv("KIE_MODEL", "nano-banana-pro"),
		RequestTimeout: time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 300)),

		FreemiumActionsPerMonth:  getInt("FREEMIUM_ACTIONS_PER_MONTH", 10),
		FreemiumPeriod:           24 * time.Hour * time.Duration(getInt("FREEMIUM_PERIOD_DAYS", 30)),
		FreemiumSweepInterval:    getDuration("FREEMIUM_SWEEP_INTERVAL", time.Hour),
		GenerationCostCredits:    getInt("GENERATION_COST_CREDITS", 1),
		ReferralBonusCredits:     getInt("REFERRAL_BONUS_CREDITS", 10),
		SubscriptionDurationDays: getInt("SUBSCRIPTION_DURATION_DAYS", 30),
		LedgerMaxRetries:         getInt("LEDGER_MAX_RETRIES", 3),

		PaymentProvider:      strings.ToLower(getEnv("PAYMENT_PROVIDER", "yookassa")),
		PaymentMockMode:      getBool("PAYMENT_MOCK_MODE", false),
		PaymentCurrency:      getEnv("PAYMENT_CURRENCY", "RUB"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		YooKassaShopID:       getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:    getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:    getEnv("YOOKASSA_RETURN_URL", ""),
		YooKassaBaseURL:      getEnv("YOOKASSA_BASE_URL", ""),

		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me"),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "references"),
		S3ExportPrefix:  getEnv("S3_EXPORT_PREFIX", "exports"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if c.PaymentWebhookSecret == "" {
		missing = append(missing, "PAYMENT_WEBHOOK_SECRET")
	}
	if c.PaymentProvider == "yookassa" && !c.PaymentMockMode {
		if c.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if c.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if c.PaymentProvider != "yookassa" {
		return fmt.Errorf("unsupported payment provider: %s", c.PaymentProvider)
	}
	if c.GenerationCostCredits <= 0 {
		return fmt.Errorf("GENERATION_COST_CREDITS must be positive, got %d", c.GenerationCostCredits)
	}
	if c.FreemiumActionsPerMonth < 0 || c.FreemiumPeriod <= 0 {
		return fmt.Errorf("invalid freemium settings: actions=%d period=%s", c.FreemiumActionsPerMonth, c.FreemiumPeriod)
	}
	if c.SubscriptionDurationDays <= 0 {
		return fmt.Errorf("SUBSCRIPTION_DURATION_DAYS must be positive, got %d", c.SubscriptionDurationDays)
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile loads the first env file found. A missing file is fine; the
// process environment alone is then used.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
