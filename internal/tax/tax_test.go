package tax

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeBreakdown(t *testing.T) {
	tests := []struct {
		name        string
		gross       string
		withholding string
		commission  string
		deductions  string
		net         string
		percentage  string
	}{
		{"round thousand", "1000.00", "40.00", "28.00", "68.00", "932.00", "6.80"},
		{"basic tariff", "299.00", "11.96", "8.37", "20.33", "278.67", "6.80"},
		{"pro tariff", "499.00", "19.96", "13.97", "33.93", "465.07", "6.80"},
		{"one ruble", "1.00", "0.04", "0.03", "0.07", "0.93", "7.00"},
		{"zero", "0", "0.00", "0.00", "0.00", "0.00", "0.00"},
		{"negative", "-10.00", "0.00", "0.00", "0.00", "0.00", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ComputeBreakdown(decimal.RequireFromString(tt.gross))
			check := func(field string, got decimal.Decimal, want string) {
				t.Helper()
				if got.StringFixed(2) != want {
					t.Errorf("%s: got %s, want %s", field, got.StringFixed(2), want)
				}
			}
			check("withholding_tax", b.WithholdingTax, tt.withholding)
			check("provider_commission", b.ProviderCommission, tt.commission)
			check("total_deductions", b.TotalDeductions, tt.deductions)
			check("net_amount", b.NetAmount, tt.net)
			check("deduction_percentage", b.DeductionPercentage, tt.percentage)
		})
	}
}

func TestNetPlusDeductionsEqualsGross(t *testing.T) {
	for _, raw := range []string{"0.01", "1.00", "17.35", "199.00", "299.00", "899.00", "12345.67"} {
		gross := decimal.RequireFromString(raw)
		b := ComputeBreakdown(gross)
		if !b.NetAmount.Add(b.TotalDeductions).Equal(gross) {
			t.Errorf("gross %s: net %s + deductions %s != gross", raw, b.NetAmount, b.TotalDeductions)
		}
	}
}

func TestGrossFromNetRoundTrip(t *testing.T) {
	tolerance := decimal.RequireFromString("0.01")
	for _, raw := range []string{"0.01", "1.00", "199.00", "299.00", "499.00", "899.00", "1000.00", "5000.00"} {
		x := decimal.RequireFromString(raw)
		back := GrossFromNet(NetAmount(x))
		if back.Sub(x).Abs().GreaterThan(tolerance) {
			t.Errorf("GrossFromNet(NetAmount(%s)) = %s, off by more than %s", raw, back, tolerance)
		}
	}
}

func TestGrossFromNetExact(t *testing.T) {
	got := GrossFromNet(decimal.RequireFromString("932"))
	if got.StringFixed(2) != "1000.00" {
		t.Fatalf("got %s, want 1000.00", got.StringFixed(2))
	}
	if !GrossFromNet(decimal.Zero).IsZero() {
		t.Fatalf("zero net should yield zero gross")
	}
}

func TestMinorUnits(t *testing.T) {
	if got := FromMinorUnits(29900).StringFixed(2); got != "299.00" {
		t.Errorf("FromMinorUnits: got %s", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("278.67")); got != 27867 {
		t.Errorf("ToMinorUnits: got %d", got)
	}
}

func TestSum(t *testing.T) {
	total := Sum([]Breakdown{
		ComputeBreakdown(decimal.RequireFromString("1000.00")),
		ComputeBreakdown(decimal.RequireFromString("299.00")),
	})
	want := map[string]string{
		"gross":      "1299.00",
		"tax":        "51.96",
		"commission": "36.37",
		"deductions": "88.33",
		"net":        "1210.67",
		"percentage": "6.80",
	}
	got := map[string]string{
		"gross":      total.Gross.StringFixed(2),
		"tax":        total.WithholdingTax.StringFixed(2),
		"commission": total.ProviderCommission.StringFixed(2),
		"deductions": total.TotalDeductions.StringFixed(2),
		"net":        total.NetAmount.StringFixed(2),
		"percentage": total.DeductionPercentage.StringFixed(2),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %s, want %s", k, got[k], v)
		}
	}

	if !Sum(nil).Gross.IsZero() {
		t.Error("empty sum should be zero")
	}
}

func TestBreakdownJSONUsesTwoDecimals(t *testing.T) {
	data, err := json.Marshal(ComputeBreakdown(decimal.RequireFromString("1000")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"gross":"1000.00","withholding_tax":"40.00","provider_commission":"28.00","total_deductions":"68.00","net_amount":"932.00","deduction_percentage":"6.80"}`
	if string(data) != want {
		t.Fatalf("got %s\nwant %s", data, want)
	}

	var back Breakdown
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.NetAmount.Equal(decimal.RequireFromString("932")) {
		t.Errorf("net after round trip: %s", back.NetAmount)
	}
}
