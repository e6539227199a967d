// Package tax converts gross payment amounts into withholding tax (self-employed
// professional income tax, 4%), payment provider commission (2.8%) and the net
// amount left after both. All results are rounded half-up to kopecks.
package tax

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const scale = 2

var (
	WithholdingRate = decimal.RequireFromString("0.04")
	CommissionRate  = decimal.RequireFromString("0.028")

	hundred = decimal.NewFromInt(100)
)

// Breakdown is the reporting view of a single gross amount.
type Breakdown struct {
	Gross               decimal.Decimal `json:"gross"`
	WithholdingTax      decimal.Decimal `json:"withholding_tax"`
	ProviderCommission  decimal.Decimal `json:"provider_commission"`
	TotalDeductions     decimal.Decimal `json:"total_deductions"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	DeductionPercentage decimal.Decimal `json:"deduction_percentage"`
}

// MarshalJSON writes every amount with exactly two decimal places.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Gross               string `json:"gross"`
		WithholdingTax      string `json:"withholding_tax"`
		ProviderCommission  string `json:"provider_commission"`
		TotalDeductions     string `json:"total_deductions"`
		NetAmount           string `json:"net_amount"`
		DeductionPercentage string `json:"deduction_percentage"`
	}{
		Gross:               b.Gross.StringFixed(scale),
		WithholdingTax:      b.WithholdingTax.StringFixed(scale),
		ProviderCommission:  b.ProviderCommission.StringFixed(scale),
		TotalDeductions:     b.TotalDeductions.StringFixed(scale),
		NetAmount:           b.NetAmount.StringFixed(scale),
		DeductionPercentage: b.DeductionPercentage.StringFixed(scale),
	})
}

// round is half-up for the non-negative amounts this package deals with.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(scale)
}

func WithholdingTax(gross decimal.Decimal) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	return round(gross.Mul(WithholdingRate))
}

func ProviderCommission(gross decimal.Decimal) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	return round(gross.Mul(CommissionRate))
}

func TotalDeductions(gross decimal.Decimal) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	return WithholdingTax(gross).Add(ProviderCommission(gross))
}

func NetAmount(gross decimal.Decimal) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	return round(gross.Sub(TotalDeductions(gross)))
}

// GrossFromNet is the approximate inverse of NetAmount. Rounding on both sides
// means GrossFromNet(NetAmount(x)) can differ from x by one kopeck.
func GrossFromNet(net decimal.Decimal) decimal.Decimal {
	if !net.IsPositive() {
		return decimal.Zero
	}
	coefficient := decimal.NewFromInt(1).Sub(WithholdingRate).Sub(CommissionRate)
	return round(net.Div(coefficient))
}

func ComputeBreakdown(gross decimal.Decimal) Breakdown {
	if !gross.IsPositive() {
		return Breakdown{
			Gross:               decimal.Zero,
			WithholdingTax:      decimal.Zero,
			ProviderCommission:  decimal.Zero,
			TotalDeductions:     decimal.Zero,
			NetAmount:           decimal.Zero,
			DeductionPercentage: decimal.Zero,
		}
	}

	deductions := TotalDeductions(gross)
	return Breakdown{
		Gross:               round(gross),
		WithholdingTax:      WithholdingTax(gross),
		ProviderCommission:  ProviderCommission(gross),
		TotalDeductions:     deductions,
		NetAmount:           NetAmount(gross),
		DeductionPercentage: round(deductions.Div(gross).Mul(hundred)),
	}
}

// FromMinorUnits converts an integer amount in kopecks (cents) to a decimal.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -scale)
}

// ToMinorUnits converts a decimal amount to kopecks, rounding half-up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return round(amount).Shift(scale).IntPart()
}

// Sum adds breakdowns column by column and recomputes the percentage from the
// summed amounts.
func Sum(items []Breakdown) Breakdown {
	total := ComputeBreakdown(decimal.Zero)
	for _, b := range items {
		total.Gross = total.Gross.Add(b.Gross)
		total.WithholdingTax = total.WithholdingTax.Add(b.WithholdingTax)
		total.ProviderCommission = total.ProviderCommission.Add(b.ProviderCommission)
		total.TotalDeductions = total.TotalDeductions.Add(b.TotalDeductions)
		total.NetAmount = total.NetAmount.Add(b.NetAmount)
	}
	if total.Gross.IsPositive() {
		total.DeductionPercentage = round(total.TotalDeductions.Div(total.Gross).Mul(hundred))
	}
	return total
}
