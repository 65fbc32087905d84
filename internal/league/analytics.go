package league

import (
	"math"
	"sort"
	"time"
)

const (
	// TradingDaysPerYear is the annualization base for volatility and
	// Sharpe. Changing it breaks score compatibility across seasons.
	TradingDaysPerYear = 252

	// DefaultAnnualRiskFree is the risk-free rate used by risk-adjusted
	// scoring.
	DefaultAnnualRiskFree = 0.02
)

// Every statistic below degrades gracefully: fewer than two snapshots (or an
// otherwise degenerate series) yields a defined zero result, never an error.

// ReturnPercent is the simple return over the snapshot series, in percent.
func ReturnPercent(snapshots []PortfolioSnapshot) float64 {
	ordered := sortedByTime(snapshots)
	if len(ordered) < 2 {
		return 0
	}
	starting := ordered[0].TotalValue
	if starting <= 0 {
		return 0
	}
	return (ordered[len(ordered)-1].TotalValue - starting) / starting * 100
}

// AnnualizedReturnPercent compounds the window return to a yearly rate.
func AnnualizedReturnPercent(snapshots []PortfolioSnapshot, windowDays float64) float64 {
	ordered := sortedByTime(snapshots)
	if len(ordered) < 2 || windowDays <= 0 {
		return 0
	}
	starting := ordered[0].TotalValue
	ending := ordered[len(ordered)-1].TotalValue
	if starting <= 0 || ending <= 0 {
		return 0
	}
	return (math.Pow(ending/starting, 365/windowDays) - 1) * 100
}

// VolatilityPercent is the annualized population stddev of daily returns,
// in percent.
func VolatilityPercent(snapshots []PortfolioSnapshot) float64 {
	returns := dailyReturns(sortedByTime(snapshots))
	if len(returns) == 0 {
		return 0
	}
	return populationStdDev(returns) * math.Sqrt(TradingDaysPerYear) * 100
}

// Drawdown reports the worst peak-to-valley loss as a fraction of the peak,
// with the timestamps of the peak and the valley that produced it.
type Drawdown struct {
	MaxFraction float64   `json:"max_fraction"`
	PeakAt      time.Time `json:"peak_at"`
	ValleyAt    time.Time `json:"valley_at"`
}

// MaxDrawdown folds over the series once, tracking the running peak. The
// result is always within [0, 1] and 0 for a non-decreasing series.
func MaxDrawdown(snapshots []PortfolioSnapshot) Drawdown {
	ordered := sortedByTime(snapshots)
	var dd Drawdown
	if len(ordered) == 0 {
		return dd
	}
	peak := ordered[0]
	dd.PeakAt = peak.Timestamp
	dd.ValleyAt = peak.Timestamp
	for _, snap := range ordered[1:] {
		if snap.TotalValue > peak.TotalValue {
			peak = snap
			continue
		}
		if peak.TotalValue <= 0 {
			continue
		}
		frac := (peak.TotalValue - snap.TotalValue) / peak.TotalValue
		if frac > dd.MaxFraction {
			dd.MaxFraction = frac
			dd.PeakAt = peak.Timestamp
			dd.ValleyAt = snap.Timestamp
		}
	}
	return dd
}

// ValueAtRisk is the historical VaR at the given confidence (e.g. 0.95),
// reported as a positive loss percentage.
func ValueAtRisk(snapshots []PortfolioSnapshot, confidence float64) float64 {
	returns := dailyReturns(sortedByTime(snapshots))
	if len(returns) == 0 {
		return 0
	}
	sort.Float64s(returns)
	idx := varIndex(len(returns), confidence)
	return math.Abs(returns[idx]) * 100
}

// ConditionalValueAtRisk averages the tail at or below the VaR index,
// reported as a positive loss percentage.
func ConditionalValueAtRisk(snapshots []PortfolioSnapshot, confidence float64) float64 {
	returns := dailyReturns(sortedByTime(snapshots))
	if len(returns) == 0 {
		return 0
	}
	sort.Float64s(returns)
	idx := varIndex(len(returns), confidence)
	var sum float64
	for _, r := range returns[:idx+1] {
		sum += r
	}
	return math.Abs(sum/float64(idx+1)) * 100
}

// AnnualizedSharpe is the Sharpe ratio of daily snapshot returns, annualized
// by sqrt(252). Zero variance is floored at 0.0001 so a flat series scores
// finite. These constants are load-bearing for score compatibility.
func AnnualizedSharpe(snapshots []PortfolioSnapshot, annualRiskFree float64) float64 {
	returns := dailyReturns(sortedByTime(snapshots))
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	stddev := populationStdDev(returns)
	if stddev == 0 {
		stddev = 0.0001
	}
	dailyRiskFree := annualRiskFree / TradingDaysPerYear
	return (mean - dailyRiskFree) / stddev * math.Sqrt(TradingDaysPerYear)
}

func varIndex(n int, confidence float64) int {
	idx := int(math.Floor(float64(n) * (1 - confidence)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// dailyReturns computes simple period-over-period returns, skipping samples
// whose predecessor is non-positive.
func dailyReturns(ordered []PortfolioSnapshot) []float64 {
	if len(ordered) < 2 {
		return nil
	}
	out := make([]float64, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		prev := ordered[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		out = append(out, (ordered[i].TotalValue-prev)/prev)
	}
	return out
}

func sortedByTime(snapshots []PortfolioSnapshot) []PortfolioSnapshot {
	ordered := make([]PortfolioSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
