package league

import (
	"testing"
	"time"
)

var scanNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func tradeAt(at time.Time, side Side, shares, price, pnl float64) Trade {
	return Trade{Symbol: "AAPL", Side: side, Shares: shares, Price: price, ExecutedAt: at, RealizedPnL: pnl}
}

func flagTypes(flags []FairPlayFlag) map[FlagType]bool {
	out := map[FlagType]bool{}
	for _, f := range flags {
		out[f.Type] = true
	}
	return out
}

func TestRapidTradingFiresOnFiveTradesInWindow(t *testing.T) {
	var trades []Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, tradeAt(scanNow.Add(time.Duration(-4+i)*time.Minute), SideBuy, 1, 10, 0))
	}
	flags := ScanForFlags("u1", "l1", trades, scanNow)
	if len(flags) != 1 || flags[0].Type != FlagRapidTrading {
		t.Fatalf("flags = %+v, want exactly one rapid trading flag", flags)
	}
	if flags[0].Severity != SeverityMedium {
		t.Fatalf("severity = %s, want %s", flags[0].Severity, SeverityMedium)
	}
}

func TestRapidTradingExactWindowStillFires(t *testing.T) {
	base := scanNow.Add(-time.Hour)
	trades := []Trade{
		tradeAt(base, SideBuy, 1, 10, 0),
		tradeAt(base.Add(1*time.Minute), SideBuy, 1, 10, 0),
		tradeAt(base.Add(2*time.Minute), SideBuy, 1, 10, 0),
		tradeAt(base.Add(3*time.Minute), SideBuy, 1, 10, 0),
		tradeAt(base.Add(5*time.Minute), SideBuy, 1, 10, 0),
	}
	flags := ScanForFlags("u1", "l1", trades, scanNow)
	if !flagTypes(flags)[FlagRapidTrading] {
		t.Fatalf("five trades spanning exactly five minutes did not flag")
	}
}

func TestRapidTradingJustOutsideWindow(t *testing.T) {
	base := scanNow.Add(-time.Hour)
	trades := []Trade{
		tradeAt(base, SideBuy, 1, 10, 0),
		tradeAt(base.Add(76*time.Second), SideBuy, 1, 10, 0),
		tradeAt(base.Add(152*time.Second), SideBuy, 1, 10, 0),
		tradeAt(base.Add(228*time.Second), SideBuy, 1, 10, 0),
		tradeAt(base.Add(301*time.Second), SideBuy, 1, 10, 0),
	}
	flags := ScanForFlags("u1", "l1", trades, scanNow)
	if len(flags) != 0 {
		t.Fatalf("flags = %+v, want none for a 5m1s span", flags)
	}
}

func TestUnusualWinRate(t *testing.T) {
	// Twenty closed trades spread ten minutes apart: all wins flags, one
	// loss brings the rate to exactly the threshold and does not.
	build := func(losses int) []Trade {
		var trades []Trade
		for i := 0; i < 20; i++ {
			pnl := 5.0
			if i < losses {
				pnl = -5.0
			}
			trades = append(trades, tradeAt(scanNow.Add(time.Duration(-10*(i+1))*time.Minute), SideSell, 1, 10, pnl))
		}
		return trades
	}

	flags := ScanForFlags("u1", "l1", build(0), scanNow)
	if !flagTypes(flags)[FlagUnusualWinRate] {
		t.Fatalf("perfect win rate did not flag: %+v", flags)
	}
	for _, f := range flags {
		if f.Type == FlagUnusualWinRate && f.Severity != SeverityHigh {
			t.Fatalf("severity = %s, want %s", f.Severity, SeverityHigh)
		}
	}

	if flagTypes(ScanForFlags("u1", "l1", build(1), scanNow))[FlagUnusualWinRate] {
		t.Fatalf("win rate at the threshold should not flag")
	}
}

func TestUnusualWinRateIgnoresOldAndFlatTrades(t *testing.T) {
	trades := []Trade{
		// Outside the trailing week.
		tradeAt(scanNow.AddDate(0, 0, -8), SideSell, 1, 10, 100),
		// Flat close inside the window counts as neither win nor loss.
		tradeAt(scanNow.Add(-time.Hour), SideSell, 1, 10, 0),
	}
	if flags := ScanForFlags("u1", "l1", trades, scanNow); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none without closed wins or losses", flags)
	}
}

func TestVolumeSpike(t *testing.T) {
	yesterday := scanNow.Add(-24 * time.Hour)
	baseline := tradeAt(yesterday, SideBuy, 1, 100, 0) // 100 on the only active day

	spike := []Trade{baseline, tradeAt(scanNow.Add(-time.Hour), SideBuy, 6, 100, 0)}
	flags := ScanForFlags("u1", "l1", spike, scanNow)
	if !flagTypes(flags)[FlagVolumeSpike] {
		t.Fatalf("600 against a 100 average did not flag: %+v", flags)
	}

	// Exactly five times the average is not over the factor.
	atLimit := []Trade{baseline, tradeAt(scanNow.Add(-time.Hour), SideBuy, 5, 100, 0)}
	if flagTypes(ScanForFlags("u1", "l1", atLimit, scanNow))[FlagVolumeSpike] {
		t.Fatalf("volume at the spike factor should not flag")
	}
}

func TestVolumeSpikeNeedsBaseline(t *testing.T) {
	trades := []Trade{tradeAt(scanNow.Add(-time.Hour), SideBuy, 1_000, 100, 0)}
	if flags := ScanForFlags("u1", "l1", trades, scanNow); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none without prior trading days", flags)
	}
}

func TestScanStampsFlags(t *testing.T) {
	var trades []Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, tradeAt(scanNow.Add(time.Duration(-i)*time.Minute), SideBuy, 1, 10, 0))
	}
	flags := ScanForFlags("u7", "league-9", trades, scanNow)
	if len(flags) == 0 {
		t.Fatalf("expected at least one flag")
	}
	for _, f := range flags {
		if f.UserID != "u7" || f.LeagueID != "league-9" || !f.DetectedAt.Equal(scanNow) {
			t.Fatalf("flag not stamped: %+v", f)
		}
	}
}

func TestScanDoesNotModifyInput(t *testing.T) {
	trades := []Trade{
		tradeAt(scanNow.Add(-time.Minute), SideBuy, 1, 10, 0),
		tradeAt(scanNow.Add(-time.Hour), SideBuy, 1, 10, 0),
	}
	first := trades[0].ExecutedAt
	ScanForFlags("u1", "l1", trades, scanNow)
	if !trades[0].ExecutedAt.Equal(first) {
		t.Fatalf("input slice was reordered")
	}
}
