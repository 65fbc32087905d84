package league

import (
	"fmt"
	"sort"
	"time"
)

const (
	rapidTradeCount  = 5
	rapidTradeWindow = 5 * time.Minute

	winRateWindow    = 7 * 24 * time.Hour
	winRateThreshold = 0.95

	volumeSpikeFactor = 5.0
	volumeWindowDays  = 30
)

// ScanForFlags runs every fair-play check over the member's trade history.
// Checks are independent and order-insensitive; several flags can fire from
// one scan. Flags are advisory output only and never block trades.
func ScanForFlags(userID, leagueID string, trades []Trade, now time.Time) []FairPlayFlag {
	ordered := make([]Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	var flags []FairPlayFlag
	if flag, ok := detectRapidTrading(ordered); ok {
		flags = append(flags, stamp(flag, userID, leagueID, now))
	}
	if flag, ok := detectUnusualWinRate(ordered, now); ok {
		flags = append(flags, stamp(flag, userID, leagueID, now))
	}
	if flag, ok := detectVolumeSpike(ordered, now); ok {
		flags = append(flags, stamp(flag, userID, leagueID, now))
	}
	return flags
}

func stamp(flag FairPlayFlag, userID, leagueID string, now time.Time) FairPlayFlag {
	flag.UserID = userID
	flag.LeagueID = leagueID
	flag.DetectedAt = now
	return flag
}

// detectRapidTrading fires when any rapidTradeCount consecutive trades span
// at most rapidTradeWindow. The span check is inclusive: five trades exactly
// five minutes apart end to end still fire.
func detectRapidTrading(ordered []Trade) (FairPlayFlag, bool) {
	for i := rapidTradeCount - 1; i < len(ordered); i++ {
		span := ordered[i].ExecutedAt.Sub(ordered[i-rapidTradeCount+1].ExecutedAt)
		if span <= rapidTradeWindow {
			return FairPlayFlag{
				Type:     FlagRapidTrading,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("%d trades within %s (window allows %s)",
					rapidTradeCount, span, rapidTradeWindow),
			}, true
		}
	}
	return FairPlayFlag{}, false
}

// detectUnusualWinRate looks at closed trades over the trailing week. Wins
// and losses come from realized PnL on sells; flat closes count as neither.
func detectUnusualWinRate(ordered []Trade, now time.Time) (FairPlayFlag, bool) {
	cutoff := now.Add(-winRateWindow)
	wins, losses := 0, 0
	for _, t := range ordered {
		if t.ExecutedAt.Before(cutoff) || t.Side != SideSell {
			continue
		}
		switch {
		case t.RealizedPnL > 0:
			wins++
		case t.RealizedPnL < 0:
			losses++
		}
	}
	total := wins + losses
	if total == 0 {
		return FairPlayFlag{}, false
	}
	rate := float64(wins) / float64(total)
	if rate <= winRateThreshold {
		return FairPlayFlag{}, false
	}
	return FairPlayFlag{
		Type:     FlagUnusualWinRate,
		Severity: SeverityHigh,
		Description: fmt.Sprintf("win rate %.0f%% over %d closed trades in the last 7 days",
			rate*100, total),
	}, true
}

// detectVolumeSpike compares today's traded dollar volume with the trailing
// 30-day average, averaged only over days that saw at least one trade. No
// baseline, no flag.
func detectVolumeSpike(ordered []Trade, now time.Time) (FairPlayFlag, bool) {
	today := now.UTC().Truncate(24 * time.Hour)
	baselineStart := today.AddDate(0, 0, -volumeWindowDays)

	var todayVolume float64
	dayVolumes := map[time.Time]float64{}
	for _, t := range ordered {
		day := t.ExecutedAt.UTC().Truncate(24 * time.Hour)
		switch {
		case day.Equal(today):
			todayVolume += t.Value()
		case !day.Before(baselineStart) && day.Before(today):
			dayVolumes[day] += t.Value()
		}
	}

	activeDays := 0
	var baselineVolume float64
	for _, v := range dayVolumes {
		if v > 0 {
			baselineVolume += v
			activeDays++
		}
	}
	if activeDays == 0 {
		return FairPlayFlag{}, false
	}
	average := baselineVolume / float64(activeDays)
	if todayVolume <= volumeSpikeFactor*average {
		return FairPlayFlag{}, false
	}
	return FairPlayFlag{
		Type:     FlagVolumeSpike,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("today's volume %.2f is over %gx the 30-day average %.2f",
			todayVolume, volumeSpikeFactor, average),
	}, true
}
