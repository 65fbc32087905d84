package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockleague/internal/config"
	"stockleague/internal/db"
	"stockleague/internal/league"
	"stockleague/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, logger)

	if cfg.RunOnce {
		if err := sweepLeagues(ctx, st, logger, cfg.ScanWindow); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.ScanEvery)
	defer ticker.Stop()

	logger.Info("worker started", "scan_every", cfg.ScanEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := sweepLeagues(ctx, st, logger, cfg.ScanWindow); err != nil {
				logger.Error("sweep failed", "err", err)
				continue
			}
		}
	}
}

// sweepLeagues runs the scheduled fair-play scan over every member of every
// active league. New flags are persisted; they are advisory and never block
// trading.
func sweepLeagues(ctx context.Context, st *store.Store, logger *slog.Logger, window time.Duration) error {
	leagueIDs, err := st.ActiveLeagueIDs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, leagueID := range leagueIDs {
		members, err := st.Members(ctx, leagueID)
		if err != nil {
			return err
		}
		flagged := 0
		for _, m := range members {
			trades, err := st.TradesSince(ctx, leagueID, m.UserID, now.Add(-window))
			if err != nil {
				return err
			}
			flags := league.ScanForFlags(m.UserID, leagueID, trades, now)
			if len(flags) == 0 {
				continue
			}
			if err := st.InsertFlags(ctx, flags); err != nil {
				return err
			}
			flagged += len(flags)
		}
		logger.Info("fair play sweep complete",
			"league_id", leagueID, "members", len(members), "flags", flagged)
	}
	return nil
}
