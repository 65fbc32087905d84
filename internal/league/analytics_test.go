package league

import (
	"math"
	"testing"
	"time"
)

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReturnPercent(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 100, 105, 110)
	if got := ReturnPercent(snaps); !closeTo(got, 10) {
		t.Fatalf("return = %v, want 10", got)
	}

	// Order of input must not matter.
	shuffled := []PortfolioSnapshot{snaps[2], snaps[0], snaps[1]}
	if got := ReturnPercent(shuffled); !closeTo(got, 10) {
		t.Fatalf("return on unsorted input = %v, want 10", got)
	}
}

func TestAnnualizedReturnPercent(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 100, 110)
	want := (math.Pow(1.1, 365.0/30.0) - 1) * 100
	if got := AnnualizedReturnPercent(snaps, 30); !closeTo(got, want) {
		t.Fatalf("annualized return = %v, want %v", got, want)
	}
	if got := AnnualizedReturnPercent(snaps, 0); got != 0 {
		t.Fatalf("zero window = %v, want 0", got)
	}
}

func TestVolatilityPercent(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	// Daily returns are +10% and -10%: population stddev 0.1.
	snaps := snapshotSeries(start, 100, 110, 99)
	want := 0.1 * math.Sqrt(252) * 100
	if got := VolatilityPercent(snaps); !closeTo(got, want) {
		t.Fatalf("volatility = %v, want %v", got, want)
	}
}

func TestMaxDrawdownNonDecreasingSeries(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	dd := MaxDrawdown(snapshotSeries(start, 1000, 1100, 1200))
	if dd.MaxFraction != 0 {
		t.Fatalf("drawdown = %v, want 0 for a non-decreasing series", dd.MaxFraction)
	}
}

func TestMaxDrawdownPeakToValley(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 1000, 1200, 900, 1100)
	dd := MaxDrawdown(snaps)
	if !closeTo(dd.MaxFraction, 0.25) {
		t.Fatalf("drawdown = %v, want 0.25", dd.MaxFraction)
	}
	if !dd.PeakAt.Equal(snaps[1].Timestamp) || !dd.ValleyAt.Equal(snaps[2].Timestamp) {
		t.Fatalf("peak/valley = %s/%s, want %s/%s", dd.PeakAt, dd.ValleyAt, snaps[1].Timestamp, snaps[2].Timestamp)
	}
	if dd.MaxFraction < 0 || dd.MaxFraction > 1 {
		t.Fatalf("drawdown %v outside [0, 1]", dd.MaxFraction)
	}
}

func TestValueAtRisk(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	// Daily returns: +10%, -10%, +10%, -5%. At 95% confidence over four
	// samples the index lands on the worst return.
	snaps := snapshotSeries(start, 100, 110, 99, 108.9, 103.455)
	if got := ValueAtRisk(snaps, 0.95); !closeTo(got, 10) {
		t.Fatalf("VaR = %v, want 10", got)
	}
	if got := ConditionalValueAtRisk(snaps, 0.95); !closeTo(got, 10) {
		t.Fatalf("CVaR = %v, want 10", got)
	}
}

func TestAnnualizedSharpeFlatSeries(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 100, 100, 100, 100)
	// Zero variance is floored at 0.0001, so the flat series scores a large
	// but finite negative ratio.
	want := (0 - 0.02/252.0) / 0.0001 * math.Sqrt(252)
	got := AnnualizedSharpe(snaps, DefaultAnnualRiskFree)
	if !closeTo(got, want) {
		t.Fatalf("sharpe = %v, want %v", got, want)
	}
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("sharpe is not finite: %v", got)
	}
}

func TestStatsDegradeToZero(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for _, snaps := range [][]PortfolioSnapshot{nil, snapshotSeries(start, 100)} {
		if got := ReturnPercent(snaps); got != 0 {
			t.Fatalf("return = %v, want 0", got)
		}
		if got := VolatilityPercent(snaps); got != 0 {
			t.Fatalf("volatility = %v, want 0", got)
		}
		if got := ValueAtRisk(snaps, 0.95); got != 0 {
			t.Fatalf("VaR = %v, want 0", got)
		}
		if got := ConditionalValueAtRisk(snaps, 0.95); got != 0 {
			t.Fatalf("CVaR = %v, want 0", got)
		}
		if got := AnnualizedSharpe(snaps, DefaultAnnualRiskFree); got != 0 {
			t.Fatalf("sharpe = %v, want 0", got)
		}
		if dd := MaxDrawdown(snaps); dd.MaxFraction != 0 {
			t.Fatalf("drawdown = %v, want 0", dd.MaxFraction)
		}
	}
}
