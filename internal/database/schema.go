package database

// schema is applied statement by statement; the DSN does not need
// multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    referral_code VARCHAR(32) NOT NULL UNIQUE,
    balance_credits INT NOT NULL DEFAULT 0,
    subscription_tier VARCHAR(16),
    subscription_expires_at DATETIME(6) NULL,
    freemium_actions_used INT NOT NULL DEFAULT 0,
    freemium_reset_at DATETIME(6) NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CONSTRAINT chk_users_balance CHECK (balance_credits >= 0),
    CONSTRAINT chk_users_freemium CHECK (freemium_actions_used >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS tariffs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    payment_type VARCHAR(16) NOT NULL,
    subscription_tier VARCHAR(16),
    credits INT NOT NULL DEFAULT 0,
    duration_days INT NOT NULL DEFAULT 0,
    currency VARCHAR(8) NOT NULL,
    price_minor_units BIGINT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    tariff_id BIGINT NULL,
    provider VARCHAR(64) NOT NULL,
    provider_payment_id VARCHAR(128) NULL,
    idempotency_key VARCHAR(128) NOT NULL,
    amount_minor BIGINT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    payment_type VARCHAR(16) NOT NULL,
    subscription_tier VARCHAR(16),
    credits_amount INT NOT NULL DEFAULT 0,
    duration_days INT NOT NULL DEFAULT 0,
    confirmation_url TEXT,
    raw_payload MEDIUMTEXT,
    paid_at DATETIME(6) NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_payments_idempotency (idempotency_key),
    UNIQUE KEY uniq_payments_provider (provider, provider_payment_id),
    KEY idx_payments_status_created (status, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (tariff_id) REFERENCES tariffs(id) ON DELETE SET NULL
)`,
	`CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    referrer_id BIGINT NOT NULL,
    referred_id BIGINT NOT NULL,
    credits_awarded INT NOT NULL DEFAULT 10,
    is_awarded TINYINT(1) NOT NULL DEFAULT 0,
    awarded_at DATETIME(6) NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_referrals_referred (referred_id),
    KEY idx_referrals_referrer (referrer_id),
    FOREIGN KEY (referrer_id) REFERENCES users(id),
    FOREIGN KEY (referred_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    prompt TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    payment_method VARCHAR(16),
    credits_spent INT NOT NULL DEFAULT 0,
    has_watermark TINYINT(1) NOT NULL DEFAULT 0,
    image_url TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_generations_user (user_id),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(16) NOT NULL,
    method VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    balance_after INT NOT NULL,
    idempotency_key VARCHAR(128) NULL,
    generation_id BIGINT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_ledger_idempotency (idempotency_key),
    KEY idx_ledger_user (user_id, id),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits INT NOT NULL DEFAULT 0,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_user_promo (user_id, promo_code_id),
    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
)`,
}
