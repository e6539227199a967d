package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/tax"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidStatus     = errors.New("invalid payment status")
	ErrInvalidFilter     = errors.New("invalid export filter")
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

type PaymentLister interface {
	ListForExport(ctx context.Context, f models.PaymentFilter) ([]models.PaymentWithUser, error)
}

// Archiver keeps a private copy of generated exports. *storage.Uploader
// implements it.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type ReportService struct {
	payments PaymentLister
	archiver Archiver
	log      *slog.Logger
}

type ExportRow struct {
	PaymentID         int64                   `json:"payment_id"`
	UserID            int64                   `json:"user_id"`
	TelegramID        int64                   `json:"telegram_id"`
	Username          string                  `json:"username,omitempty"`
	ProviderPaymentID string                  `json:"provider_payment_id"`
	PaymentType       models.PaymentType      `json:"payment_type"`
	SubscriptionTier  models.SubscriptionTier `json:"subscription_tier,omitempty"`
	CreditsAmount     int                     `json:"credits_amount,omitempty"`
	Currency          string                  `json:"currency"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	Breakdown         tax.Breakdown           `json:"breakdown"`
}

// ExportFilter selects payments by status and creation time. Both bounds
// are inclusive; an empty Status means succeeded.
type ExportFilter struct {
	Status models.PaymentStatus
	From   *time.Time
	To     *time.Time
}

type Export struct {
	Status models.PaymentStatus `json:"status"`
	From   *time.Time           `json:"from,omitempty"`
	To     *time.Time           `json:"to,omitempty"`
	Count  int                  `json:"count"`
	Rows   []ExportRow          `json:"rows"`
	Totals tax.Breakdown        `json:"totals"`
}

// ExportFile is a rendered export ready to be served or archived.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
	ArchiveKey  string
}

// NewReportService builds the exporter. archiver may be nil when object
// storage is not configured.
func NewReportService(payments PaymentLister, archiver Archiver, log *slog.Logger) *ReportService {
	return &ReportService{payments: payments, archiver: archiver, log: log}
}

// Build collects the payments matching f with their tax breakdowns.
func (s *ReportService) Build(ctx context.Context, f ExportFilter) (*Export, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.payments.ListForExport(ctx, models.PaymentFilter{
		Status: f.Status,
		From:   f.From,
		To:     f.To,
	})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	exp := &Export{Status: f.Status, From: f.From, To: f.To, Rows: make([]ExportRow, 0, len(rows))}
	breakdowns := make([]tax.Breakdown, 0, len(rows))
	for _, p := range rows {
		b := tax.ComputeBreakdown(tax.FromMinorUnits(p.AmountMinor))
		breakdowns = append(breakdowns, b)
		exp.Rows = append(exp.Rows, ExportRow{
			PaymentID:         p.ID,
			UserID:            p.UserID,
			TelegramID:        p.TelegramID,
			Username:          p.Username,
			ProviderPaymentID: p.ProviderPaymentID,
			PaymentType:       p.PaymentType,
			SubscriptionTier:  p.SubscriptionTier,
			CreditsAmount:     p.CreditsAmount,
			Currency:          p.Currency,
			PaidAt:            p.PaidAt,
			Breakdown:         b,
		})
	}
	exp.Count = len(exp.Rows)
	exp.Totals = tax.Sum(breakdowns)
	return exp, nil
}

// Render builds the export in the requested format and archives it when an
// archiver is configured. Archive failures are logged and do not fail the
// export.
func (s *ReportService) Render(ctx context.Context, format string, f ExportFilter) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	exp, err := s.Build(ctx, f)
	if err != nil {
		return nil, err
	}

	file := &ExportFile{Name: exportName(format, exp.Status, exp.From, exp.To)}
	switch format {
	case FormatJSON:
		file.ContentType = "application/json"
		file.Data, err = json.MarshalIndent(exp, "", "  ")
	default:
		file.ContentType = "text/csv"
		file.Data, err = WriteCSV(exp)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s export: %w", format, err)
	}

	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, file.Name, file.Data, file.ContentType)
		if err != nil {
			s.log.Error("archive export failed", "name", file.Name, "err", err)
		} else {
			file.ArchiveKey = key
		}
	}
	s.log.Info("payments exported", "format", format, "status", exp.Status, "rows", exp.Count, "archive_key", file.ArchiveKey)
	return file, nil
}

var csvHeader = []string{
	"payment_id", "user_id", "telegram_id", "username", "provider_payment_id",
	"payment_type", "subscription_tier", "credits", "currency", "paid_at",
	"gross", "withholding_tax", "provider_commission", "total_deductions", "net_amount", "deduction_percentage",
}

// WriteCSV renders one line per payment followed by a TOTAL line.
func WriteCSV(exp *Export) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range exp.Rows {
		paidAt := ""
		if r.PaidAt != nil {
			paidAt = r.PaidAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatInt(r.PaymentID, 10),
			strconv.FormatInt(r.UserID, 10),
			strconv.FormatInt(r.TelegramID, 10),
			r.Username,
			r.ProviderPaymentID,
			string(r.PaymentType),
			string(r.SubscriptionTier),
			strconv.Itoa(r.CreditsAmount),
			r.Currency,
			paidAt,
		}
		if err := w.Write(append(record, breakdownColumns(r.Breakdown)...)); err != nil {
			return nil, err
		}
	}
	total := append([]string{"TOTAL", "", "", "", "", "", "", "", "", ""}, breakdownColumns(exp.Totals)...)
	if err := w.Write(total); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func breakdownColumns(b tax.Breakdown) []string {
	return []string{
		b.Gross.StringFixed(2),
		b.WithholdingTax.StringFixed(2),
		b.ProviderCommission.StringFixed(2),
		b.TotalDeductions.StringFixed(2),
		b.NetAmount.StringFixed(2),
		b.DeductionPercentage.StringFixed(2),
	}
}

func normalizeFilter(f ExportFilter) (ExportFilter, error) {
	if f.Status == "" {
		f.Status = models.PaymentSucceeded
	}
	switch f.Status {
	case models.PaymentPending, models.PaymentSucceeded, models.PaymentCanceled, models.PaymentFailed:
	default:
		return f, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("%w: to %s is before from %s", ErrInvalidFilter, f.To.Format(time.RFC3339), f.From.Format(time.RFC3339))
	}
	return f, nil
}

func exportName(format string, status models.PaymentStatus, from, to *time.Time) string {
	const layout = "20060102"
	start, end := "begin", "now"
	if from != nil {
		start = from.UTC().Format(layout)
	}
	if to != nil {
		end = to.UTC().Format(layout)
	}
	return fmt.Sprintf("payments_%s_%s_%s.%s", status, start, end, format)
}
