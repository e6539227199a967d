package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultYooKassaURL = "https://api.yookassa.ru/v3"

type YooKassaConfig struct {
	ShopID    string
	SecretKey string
	ReturnURL string
	BaseURL   string
}

type YooKassa struct {
	cfg    YooKassaConfig
	client *http.Client
}

func NewYooKassa(cfg YooKassaConfig) *YooKassa {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultYooKassaURL
	}
	if cfg.ReturnURL == "" {
		cfg.ReturnURL = "https://t.me"
	}
	return &YooKassa{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (y *YooKassa) Name() string { return "yookassa" }

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooPaymentResponse struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Amount       yooAmount `json:"amount"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (y *YooKassa) CreatePayment(ctx context.Context, req CreateRequest) (*Intent, error) {
	if y.cfg.ShopID == "" || y.cfg.SecretKey == "" {
		return nil, providerError("yookassa credentials are not configured")
	}
	if req.IdempotencyKey == "" {
		return nil, providerError("idempotency key is required")
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = y.cfg.ReturnURL
	}
	payload := map[string]any{
		"amount": yooAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": req.Description,
		"metadata":    req.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode yookassa request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(y.cfg.BaseURL, "/")+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.IdempotencyKey)
	httpReq.SetBasicAuth(y.cfg.ShopID, y.cfg.SecretKey)

	resp, err := y.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read yookassa response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, providerError("yookassa status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed yooPaymentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, providerError("invalid yookassa response (missing id or confirmation url)")
	}
	if parsed.Status == "" {
		parsed.Status = "pending"
	}
	return &Intent{
		ProviderPaymentID: parsed.ID,
		Status:            parsed.Status,
		ConfirmationURL:   parsed.Confirmation.URL,
		Raw:               string(raw),
	}, nil
}
