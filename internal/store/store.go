package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockleague/internal/league"
)

var (
	ErrLeagueNotFound       = errors.New("league not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

// Store is the engine's persistence collaborator: league configuration,
// member ledgers, snapshot history, ratings and fair-play flags. The engine
// package never imports this; the store reads rows into engine types and
// hands them over.
type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// League is a configured competition instance as loaded from storage.
type League struct {
	ID           string
	Name         string
	StartingCash float64
	Rules        league.RuleSet
	Mode         league.Mode
}

// LoadLeague reads and validates a league's rule set and mode. Rule-set
// validation happens here, at load, so trade-time code only ever sees a
// well-formed configuration.
func (s *Store) LoadLeague(ctx context.Context, leagueID string) (League, error) {
	var (
		out      League
		rulesRaw []byte
		modeRaw  []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, name, starting_cash, rule_set, mode
		FROM league.leagues
		WHERE id = $1
	`, leagueID).Scan(&out.ID, &out.Name, &out.StartingCash, &rulesRaw, &modeRaw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return out, ErrLeagueNotFound
		}
		return out, err
	}

	var rulesCfg league.RuleSetConfig
	if err := json.Unmarshal(rulesRaw, &rulesCfg); err != nil {
		return out, fmt.Errorf("decode rule set for league %s: %w", leagueID, err)
	}
	out.Rules, err = league.NewRuleSet(rulesCfg)
	if err != nil {
		return out, fmt.Errorf("league %s: %w", leagueID, err)
	}

	var modeCfg league.ModeConfig
	if err := json.Unmarshal(modeRaw, &modeCfg); err != nil {
		return out, fmt.Errorf("decode mode for league %s: %w", leagueID, err)
	}
	mode, known := league.ModeFromConfig(modeCfg)
	if !known {
		s.log.Warn("unknown competition mode, defaulting to absolute_value",
			"league_id", leagueID, "kind", modeCfg.Kind)
	}
	out.Mode = mode
	return out, nil
}

// ReplaceRules swaps a league's rule set wholesale. Partial updates are not
// supported anywhere on purpose.
func (s *Store) ReplaceRules(ctx context.Context, leagueID string, rules league.RuleSet) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE league.leagues
		SET rule_set = $1::jsonb, updated_at = now()
		WHERE id = $2
	`, string(raw), leagueID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeagueNotFound
	}
	return nil
}

// CompleteDraft flips the draft-mode one-way transition. Locking the league
// row keeps concurrent completions from racing the drafted-stocks read.
func (s *Store) CompleteDraft(ctx context.Context, leagueID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var modeRaw []byte
	if err := tx.QueryRow(ctx, `
		SELECT mode
		FROM league.leagues
		WHERE id = $1
		FOR UPDATE
	`, leagueID).Scan(&modeRaw); err != nil {
		if err == pgx.ErrNoRows {
			return ErrLeagueNotFound
		}
		return err
	}
	var cfg league.ModeConfig
	if err := json.Unmarshal(modeRaw, &cfg); err != nil {
		return err
	}
	if cfg.Draft == nil {
		cfg.Draft = &league.DraftState{}
	}
	if cfg.Draft.DraftComplete {
		return nil
	}
	cfg.Draft.DraftComplete = true
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE league.leagues
		SET mode = $1::jsonb, updated_at = now()
		WHERE id = $2
	`, string(raw), leagueID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MemberPortfolio returns current cash and quote-marked holdings.
func (s *Store) MemberPortfolio(ctx context.Context, leagueID, userID string) (league.Portfolio, []league.Holding, error) {
	var portfolio league.Portfolio
	err := s.db.QueryRow(ctx, `
		SELECT cash
		FROM league.members
		WHERE league_id = $1 AND user_id = $2
	`, leagueID, userID).Scan(&portfolio.Cash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return portfolio, nil, ErrMemberNotFound
		}
		return portfolio, nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT h.symbol, h.shares, h.average_cost, COALESCE(q.price, h.average_cost)
		FROM league.holdings h
		LEFT JOIN league.quotes q ON q.symbol = h.symbol
		WHERE h.league_id = $1 AND h.user_id = $2
		ORDER BY h.symbol
	`, leagueID, userID)
	if err != nil {
		return portfolio, nil, err
	}
	defer rows.Close()

	var holdings []league.Holding
	for rows.Next() {
		var h league.Holding
		if err := rows.Scan(&h.Symbol, &h.Shares, &h.AverageCost, &h.CurrentPrice); err != nil {
			return portfolio, nil, err
		}
		holdings = append(holdings, h)
	}
	return portfolio, holdings, rows.Err()
}

// DailyTradeCount counts the member's committed trades on the given UTC day.
func (s *Store) DailyTradeCount(ctx context.Context, leagueID, userID string, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM league.trades
		WHERE league_id = $1 AND user_id = $2
		  AND executed_at >= $3 AND executed_at < $4
	`, leagueID, userID, start, start.Add(24*time.Hour)).Scan(&count)
	return count, err
}

// Snapshots returns the member's portfolio samples since the cutoff, oldest
// first.
func (s *Store) Snapshots(ctx context.Context, leagueID, userID string, since time.Time) ([]league.PortfolioSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT taken_at, cash, total_value
		FROM league.snapshots
		WHERE league_id = $1 AND user_id = $2 AND taken_at >= $3
		ORDER BY taken_at
	`, leagueID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.PortfolioSnapshot
	for rows.Next() {
		var snap league.PortfolioSnapshot
		if err := rows.Scan(&snap.Timestamp, &snap.Cash, &snap.TotalValue); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// TradesSince returns the member's trade history since the cutoff, oldest
// first.
func (s *Store) TradesSince(ctx context.Context, leagueID, userID string, since time.Time) ([]league.Trade, error) {
	rows, err := s.db.Query(ctx, `
		SELECT symbol, side, shares, price, realized_pnl, executed_at
		FROM league.trades
		WHERE league_id = $1 AND user_id = $2 AND executed_at >= $3
		ORDER BY executed_at
	`, leagueID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.Trade
	for rows.Next() {
		var t league.Trade
		if err := rows.Scan(&t.Symbol, &t.Side, &t.Shares, &t.Price, &t.RealizedPnL, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Members lists league members with their quote-marked total values, the raw
// input for scoring and ranking.
func (s *Store) Members(ctx context.Context, leagueID string) ([]league.Member, error) {
	rows, err := s.db.Query(ctx, `
		WITH marked AS (
			SELECT h.user_id, SUM(h.shares * COALESCE(q.price, h.average_cost)) AS holdings_value
			FROM league.holdings h
			LEFT JOIN league.quotes q ON q.symbol = h.symbol
			WHERE h.league_id = $1
			GROUP BY h.user_id
		)
		SELECT m.user_id, m.joined_at, m.cash + COALESCE(mk.holdings_value, 0)
		FROM league.members m
		LEFT JOIN marked mk ON mk.user_id = m.user_id
		WHERE m.league_id = $1
		ORDER BY m.user_id
	`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.Member
	for rows.Next() {
		var m league.Member
		if err := rows.Scan(&m.UserID, &m.JoinedAt, &m.TotalValue); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveLeagueIDs lists leagues the worker should sweep.
func (s *Store) ActiveLeagueIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM league.leagues
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Ratings returns every rating row for a league.
func (s *Store) Ratings(ctx context.Context, leagueID string) ([]league.Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, league_id, value, k_factor
		FROM league.ratings
		WHERE league_id = $1
		ORDER BY user_id
	`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.Rating
	for rows.Next() {
		var r league.Rating
		if err := rows.Scan(&r.UserID, &r.LeagueID, &r.Value, &r.KFactor); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadOrSeedRating fetches a member's rating, seeding an unseen pair from
// their historical scores in the league.
func (s *Store) LoadOrSeedRating(ctx context.Context, leagueID, userID string) (league.Rating, error) {
	r := league.Rating{UserID: userID, LeagueID: leagueID, KFactor: league.RatingK}
	err := s.db.QueryRow(ctx, `
		SELECT value, k_factor
		FROM league.ratings
		WHERE league_id = $1 AND user_id = $2
	`, leagueID, userID).Scan(&r.Value, &r.KFactor)
	if err == nil {
		return r, nil
	}
	if err != pgx.ErrNoRows {
		return r, err
	}

	history, err := s.historicalScores(ctx, leagueID, userID)
	if err != nil {
		return r, err
	}
	r.Value = league.InitialRating(history)
	return r, s.SaveRating(ctx, r)
}

func (s *Store) historicalScores(ctx context.Context, leagueID, userID string) ([]float64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT score
		FROM league.season_scores
		WHERE league_id = $1 AND user_id = $2
		ORDER BY season
	`, leagueID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveRating upserts one rating row.
func (s *Store) SaveRating(ctx context.Context, r league.Rating) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO league.ratings (league_id, user_id, value, k_factor, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (league_id, user_id) DO UPDATE
		SET value = $3, k_factor = $4, updated_at = now()
	`, r.LeagueID, r.UserID, r.Value, r.KFactor)
	return err
}

// InsertFlags persists advisory flags. Flags are immutable once created;
// resolution lives elsewhere.
func (s *Store) InsertFlags(ctx context.Context, flags []league.FairPlayFlag) error {
	for _, f := range flags {
		_, err := s.db.Exec(ctx, `
			INSERT INTO league.fair_play_flags (id, league_id, user_id, flag_type, severity, description, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), f.LeagueID, f.UserID, string(f.Type), string(f.Severity), f.Description, f.DetectedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// RecentFlags lists a league's flags since the cutoff, newest first.
func (s *Store) RecentFlags(ctx context.Context, leagueID string, since time.Time) ([]league.FairPlayFlag, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, league_id, flag_type, severity, description, detected_at
		FROM league.fair_play_flags
		WHERE league_id = $1 AND detected_at >= $2
		ORDER BY detected_at DESC
	`, leagueID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.FairPlayFlag
	for rows.Next() {
		var f league.FairPlayFlag
		if err := rows.Scan(&f.UserID, &f.LeagueID, &f.Type, &f.Severity, &f.Description, &f.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CommitTradeInput names the parameters of a trade commit.
type CommitTradeInput struct {
	LeagueID       string
	UserID         string
	Order          league.Order
	IdempotencyKey string
}

// TradeReceipt is what a successful commit reports back.
type TradeReceipt struct {
	TradeID     int64   `json:"trade_id"`
	Fee         float64 `json:"fee"`
	RealizedPnL float64 `json:"realized_pnl"`
	CashAfter   float64 `json:"cash_after"`
}

// CommitTrade validates and applies a trade as one serializable unit. The
// engine's checks run inside the transaction against locked rows, so two
// concurrent buys cannot both pass the cash check on the same stale balance.
// Serialization conflicts retry with backoff.
func (s *Store) CommitTrade(ctx context.Context, in CommitTradeInput) (TradeReceipt, error) {
	var out TradeReceipt
	in.Order.Symbol = strings.ToUpper(strings.TrimSpace(in.Order.Symbol))

	lg, err := s.LoadLeague(ctx, in.LeagueID)
	if err != nil {
		return out, err
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		out, err = s.commitTradeTx(ctx, tx, lg, in)
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return out, ErrTxConflict
}

func (s *Store) commitTradeTx(ctx context.Context, tx pgx.Tx, lg League, in CommitTradeInput) (TradeReceipt, error) {
	var out TradeReceipt
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "trade"); err != nil {
		return out, err
	}

	var cash float64
	if err := tx.QueryRow(ctx, `
		SELECT cash
		FROM league.members
		WHERE league_id = $1 AND user_id = $2
		FOR UPDATE
	`, in.LeagueID, in.UserID).Scan(&cash); err != nil {
		if err == pgx.ErrNoRows {
			return out, ErrMemberNotFound
		}
		return out, err
	}

	holdings, err := lockedHoldings(ctx, tx, in.LeagueID, in.UserID)
	if err != nil {
		return out, err
	}

	today, err := dailyCountTx(ctx, tx, in.LeagueID, in.UserID)
	if err != nil {
		return out, err
	}

	portfolio := league.Portfolio{Cash: cash}
	if err := league.ValidateOrder(in.UserID, in.Order, portfolio, holdings, lg.Rules, lg.Mode, today); err != nil {
		return out, err
	}

	value := in.Order.Value()
	switch in.Order.Side {
	case league.SideBuy:
		out.Fee = lg.Rules.Fee(value)
		cash -= value + out.Fee
		if err := upsertBuyHolding(ctx, tx, in.LeagueID, in.UserID, in.Order); err != nil {
			return out, err
		}
	case league.SideSell:
		cash += value
		out.RealizedPnL, err = applySellHolding(ctx, tx, in.LeagueID, in.UserID, in.Order)
		if err != nil {
			return out, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE league.members
		SET cash = $1, updated_at = now()
		WHERE league_id = $2 AND user_id = $3
	`, cash, in.LeagueID, in.UserID); err != nil {
		return out, err
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO league.trades (league_id, user_id, symbol, side, shares, price, fee, realized_pnl, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id
	`, in.LeagueID, in.UserID, in.Order.Symbol, string(in.Order.Side), in.Order.Shares,
		in.Order.Price, out.Fee, out.RealizedPnL).Scan(&out.TradeID); err != nil {
		return out, err
	}

	if err := appendSnapshot(ctx, tx, in.LeagueID, in.UserID, cash); err != nil {
		return out, err
	}

	out.CashAfter = cash
	return out, tx.Commit(ctx)
}

func lockedHoldings(ctx context.Context, tx pgx.Tx, leagueID, userID string) ([]league.Holding, error) {
	rows, err := tx.Query(ctx, `
		SELECT h.symbol, h.shares, h.average_cost, COALESCE(q.price, h.average_cost)
		FROM league.holdings h
		LEFT JOIN league.quotes q ON q.symbol = h.symbol
		WHERE h.league_id = $1 AND h.user_id = $2
		ORDER BY h.symbol
		FOR UPDATE OF h
	`, leagueID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []league.Holding
	for rows.Next() {
		var h league.Holding
		if err := rows.Scan(&h.Symbol, &h.Shares, &h.AverageCost, &h.CurrentPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func dailyCountTx(ctx context.Context, tx pgx.Tx, leagueID, userID string) (int, error) {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM league.trades
		WHERE league_id = $1 AND user_id = $2
		  AND executed_at >= $3 AND executed_at < $4
	`, leagueID, userID, start, start.Add(24*time.Hour)).Scan(&count)
	return count, err
}

func upsertBuyHolding(ctx context.Context, tx pgx.Tx, leagueID, userID string, order league.Order) error {
	var oldShares, oldAvg float64
	err := tx.QueryRow(ctx, `
		SELECT shares, average_cost
		FROM league.holdings
		WHERE league_id = $1 AND user_id = $2 AND symbol = $3
		FOR UPDATE
	`, leagueID, userID, order.Symbol).Scan(&oldShares, &oldAvg)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO league.holdings (league_id, user_id, symbol, shares, average_cost)
			VALUES ($1, $2, $3, $4, $5)
		`, leagueID, userID, order.Symbol, order.Shares, order.Price)
		return err
	}

	newShares := oldShares + order.Shares
	newAvg := (oldShares*oldAvg + order.Shares*order.Price) / newShares
	_, err = tx.Exec(ctx, `
		UPDATE league.holdings
		SET shares = $1, average_cost = $2, updated_at = now()
		WHERE league_id = $3 AND user_id = $4 AND symbol = $5
	`, newShares, newAvg, leagueID, userID, order.Symbol)
	return err
}

func applySellHolding(ctx context.Context, tx pgx.Tx, leagueID, userID string, order league.Order) (float64, error) {
	var oldShares, avgCost float64
	err := tx.QueryRow(ctx, `
		SELECT shares, average_cost
		FROM league.holdings
		WHERE league_id = $1 AND user_id = $2 AND symbol = $3
		FOR UPDATE
	`, leagueID, userID, order.Symbol).Scan(&oldShares, &avgCost)
	if err != nil && err != pgx.ErrNoRows {
		return 0, err
	}
	// Validation already allowed this sell; an oversell here is a
	// shorting-enabled league and the position simply goes negative.
	closed := math.Min(order.Shares, math.Max(oldShares, 0))
	pnl := closed * (order.Price - avgCost)

	next := oldShares - order.Shares
	if err == pgx.ErrNoRows {
		if next != 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO league.holdings (league_id, user_id, symbol, shares, average_cost)
				VALUES ($1, $2, $3, $4, $5)
			`, leagueID, userID, order.Symbol, next, order.Price)
		}
		return 0, err
	}
	if next == 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM league.holdings
			WHERE league_id = $1 AND user_id = $2 AND symbol = $3
		`, leagueID, userID, order.Symbol)
		return pnl, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE league.holdings
		SET shares = $1, updated_at = now()
		WHERE league_id = $2 AND user_id = $3 AND symbol = $4
	`, next, leagueID, userID, order.Symbol)
	return pnl, err
}

func appendSnapshot(ctx context.Context, tx pgx.Tx, leagueID, userID string, cash float64) error {
	var holdingsValue float64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(h.shares * COALESCE(q.price, h.average_cost)), 0)
		FROM league.holdings h
		LEFT JOIN league.quotes q ON q.symbol = h.symbol
		WHERE h.league_id = $1 AND h.user_id = $2
	`, leagueID, userID).Scan(&holdingsValue); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO league.snapshots (league_id, user_id, taken_at, cash, total_value)
		VALUES ($1, $2, now(), $3, $4)
	`, leagueID, userID, cash, cash+holdingsValue)
	return err
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO league.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
