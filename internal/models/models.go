package models

import "time"

type SubscriptionTier string

const (
	TierBasic   SubscriptionTier = "basic"
	TierPro     SubscriptionTier = "pro"
	TierPremium SubscriptionTier = "premium"
)

func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierBasic, TierPro, TierPremium:
		return true
	default:
		return false
	}
}

type PaymentType string

const (
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeCredits      PaymentType = "credits"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentCanceled || s == PaymentFailed
}

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

type EntryKind string

const (
	EntryDeduct       EntryKind = "deduct"
	EntryAward        EntryKind = "award"
	EntrySubscription EntryKind = "subscription"
)

type User struct {
	ID                    int64
	TelegramID            int64
	Username              string
	FirstName             string
	LastName              string
	ReferralCode          string
	BalanceCredits        int
	SubscriptionTier      SubscriptionTier
	SubscriptionExpiresAt *time.Time
	FreemiumActionsUsed   int
	FreemiumResetAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasActiveSubscription reports whether the subscription gates access at now.
func (u *User) HasActiveSubscription(now time.Time) bool {
	return u.SubscriptionTier != "" && u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(now)
}

type Payment struct {
	ID                int64
	UserID            int64
	TariffID          *int64
	Provider          string
	ProviderPaymentID string
	IdempotencyKey    string
	AmountMinor       int64
	Currency          string
	Status            PaymentStatus
	PaymentType       PaymentType
	SubscriptionTier  SubscriptionTier
	CreditsAmount     int
	DurationDays      int
	ConfirmationURL   string
	RawPayload        string
	CreatedAt         time.Time
	PaidAt            *time.Time
	UpdatedAt         time.Time
}

type Referral struct {
	ID             int64
	ReferrerID     int64
	ReferredID     int64
	CreditsAwarded int
	IsAwarded      bool
	AwardedAt      *time.Time
	CreatedAt      time.Time
}

type Generation struct {
	ID            int64
	UserID        int64
	Prompt        string
	Status        GenerationStatus
	PaymentMethod string
	CreditsSpent  int
	HasWatermark  bool
	ImageURL      string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LedgerEntry is an append-only journal row for every balance-affecting
// operation. IdempotencyKey is unique when set.
type LedgerEntry struct {
	ID             int64
	UserID         int64
	Kind           EntryKind
	Method         string
	Amount         int
	BalanceAfter   int
	IdempotencyKey string
	GenerationID   *int64
	CreatedAt      time.Time
}

type Tariff struct {
	ID               int64
	Code             string
	Title            string
	Description      string
	PaymentType      PaymentType
	SubscriptionTier SubscriptionTier
	Credits          int
	DurationDays     int
	Currency         string
	PriceMinorUnits  int64
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PromoCode struct {
	ID        int64
	Code      string
	Credits   int
	MaxUses   int
	Uses      int
	CreatedAt time.Time
}

// PaymentWithUser is a payment joined with the owner's Telegram identity.
type PaymentWithUser struct {
	Payment
	TelegramID int64
	Username   string
}

// PaymentFilter bounds are inclusive. An empty Status matches any status.
type PaymentFilter struct {
	Status PaymentStatus
	From   *time.Time
	To     *time.Time
}
