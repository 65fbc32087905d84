package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockleague/internal/config"
	"stockleague/internal/league"
	"stockleague/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	store *store.Store
	mux   *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, st *store.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		store: st,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1/leagues/{league_id}", func(r chi.Router) {
		r.Use(s.identityMiddleware)
		r.Post("/orders/preview", s.handleOrderPreview)
		r.Post("/orders", s.handleOrderCommit)
		r.Get("/standings", s.handleStandings)
		r.Get("/members/{user_id}/analytics", s.handleMemberAnalytics)
		r.Get("/members/{user_id}/opponent", s.handleFindOpponent)
		r.Post("/members/{user_id}/scan", s.handleFairPlayScan)
		r.Get("/flags", s.handleFlags)
		r.Post("/matches", s.handleMatchResult)
		r.Put("/rules", s.handleReplaceRules)
		r.Post("/draft/complete", s.handleCompleteDraft)
	})
}

// identityMiddleware trusts the upstream gateway's X-User-ID header.
// Authentication itself happens before requests reach this service.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("missing identity context")
	}
	return userID, nil
}

type orderRequest struct {
	Symbol string  `json:"symbol"`
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
	Side   string  `json:"side"`
}

func (in orderRequest) toOrder() league.Order {
	return league.Order{
		Symbol: strings.ToUpper(strings.TrimSpace(in.Symbol)),
		Shares: in.Shares,
		Price:  in.Price,
		Side:   league.Side(strings.ToLower(strings.TrimSpace(in.Side))),
	}
}

// handleOrderPreview runs the full validation without committing anything:
// the UI-preview half of the validate-twice contract.
func (s *Server) handleOrderPreview(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	leagueID := chi.URLParam(r, "league_id")

	var in orderRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order := in.toOrder()

	lg, err := s.store.LoadLeague(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	portfolio, holdings, err := s.store.MemberPortfolio(r.Context(), leagueID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dailyCount, err := s.store.DailyTradeCount(r.Context(), leagueID, userID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := league.ValidateOrder(userID, order, portfolio, holdings, lg.Rules, lg.Mode, dailyCount); err != nil {
		if league.IsRejection(err) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "reason": err.Error()})
			return
		}
		writeDomainError(w, err)
		return
	}
	fee := lg.Rules.Fee(order.Value())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fee": fee})
}

func (s *Server) handleOrderCommit(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	leagueID := chi.URLParam(r, "league_id")

	var in orderRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := s.store.CommitTrade(r.Context(), store.CommitTradeInput{
		LeagueID:       leagueID,
		UserID:         userID,
		Order:          in.toOrder(),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Fair play also runs on trade completion, not just on the worker's
	// schedule. Flags are advisory, so a failed scan never fails the trade.
	if _, err := s.runFairPlayScan(r.Context(), leagueID, userID); err != nil {
		s.log.Warn("post-trade fair play scan failed",
			"league_id", leagueID, "user_id", userID, "err", err)
	}
	writeJSON(w, http.StatusOK, receipt)
}

type standingRow struct {
	Rank       int64   `json:"rank"`
	UserID     string  `json:"user_id"`
	Score      float64 `json:"score"`
	TotalValue float64 `json:"total_value"`
}

func (s *Server) handleStandings(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	lg, err := s.store.LoadLeague(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := s.store.Members(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	since := time.Now().AddDate(0, 0, -90)
	for i := range members {
		var snapshots []league.PortfolioSnapshot
		if lg.Mode.Kind == league.ModeRiskAdjusted {
			snapshots, err = s.store.Snapshots(r.Context(), leagueID, members[i].UserID, since)
			if err != nil {
				writeDomainError(w, err)
				return
			}
		}
		members[i].Score = lg.Mode.Score(members[i].TotalValue, lg.StartingCash, snapshots)
	}

	ranked := league.RankMembers(members, lg.Mode)
	rows := make([]standingRow, 0, len(ranked))
	for i, m := range ranked {
		rows = append(rows, standingRow{
			Rank:       int64(i + 1),
			UserID:     m.UserID,
			Score:      m.Score,
			TotalValue: m.TotalValue,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleMemberAnalytics(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	userID := chi.URLParam(r, "user_id")

	windowDays := 30
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window_days")
			return
		}
		windowDays = n
	}
	confidence := 0.95
	if v := r.URL.Query().Get("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 1 {
			writeError(w, http.StatusBadRequest, "invalid confidence")
			return
		}
		confidence = f
	}

	since := time.Now().AddDate(0, 0, -windowDays)
	snapshots, err := s.store.Snapshots(r.Context(), leagueID, userID, since)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dd := league.MaxDrawdown(snapshots)
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days":               windowDays,
		"return_percent":            league.ReturnPercent(snapshots),
		"annualized_return_percent": league.AnnualizedReturnPercent(snapshots, float64(windowDays)),
		"volatility_percent":        league.VolatilityPercent(snapshots),
		"sharpe":                    league.AnnualizedSharpe(snapshots, league.DefaultAnnualRiskFree),
		"max_drawdown":              dd,
		"var_percent":               league.ValueAtRisk(snapshots, confidence),
		"cvar_percent":              league.ConditionalValueAtRisk(snapshots, confidence),
	})
}

func (s *Server) handleFindOpponent(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	userID := chi.URLParam(r, "user_id")

	rating, err := s.store.LoadOrSeedRating(r.Context(), leagueID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	candidates, err := s.store.Ratings(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	opponent, ok := league.FindOpponent(rating, candidates, s.cfg.MatchTolerance)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "opponent": opponent})
}

func (s *Server) handleFairPlayScan(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	userID := chi.URLParam(r, "user_id")

	flags, err := s.runFairPlayScan(r.Context(), leagueID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

// runFairPlayScan scans the member's trailing trade history and persists any
// flags it produces.
func (s *Server) runFairPlayScan(ctx context.Context, leagueID, userID string) ([]league.FairPlayFlag, error) {
	now := time.Now()
	trades, err := s.store.TradesSince(ctx, leagueID, userID, now.AddDate(0, 0, -31))
	if err != nil {
		return nil, err
	}
	flags := league.ScanForFlags(userID, leagueID, trades, now)
	if len(flags) > 0 {
		if err := s.store.InsertFlags(ctx, flags); err != nil {
			return nil, err
		}
	}
	return flags, nil
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	flags, err := s.store.RecentFlags(r.Context(), leagueID, time.Now().AddDate(0, 0, -30))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

// handleMatchResult records a resolved head-to-head outcome and applies the
// symmetric rating update to both sides.
func (s *Server) handleMatchResult(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	var in struct {
		UserID     string  `json:"user_id"`
		OpponentID string  `json:"opponent_id"`
		Outcome    float64 `json:"outcome"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome := league.Outcome(in.Outcome)
	if outcome != league.OutcomeWin && outcome != league.OutcomeDraw && outcome != league.OutcomeLoss {
		writeError(w, http.StatusBadRequest, "outcome must be 1, 0.5 or 0")
		return
	}
	if in.UserID == in.OpponentID {
		writeError(w, http.StatusBadRequest, "a member cannot play themselves")
		return
	}

	userRating, err := s.store.LoadOrSeedRating(r.Context(), leagueID, in.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	oppRating, err := s.store.LoadOrSeedRating(r.Context(), leagueID, in.OpponentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	newUser := league.UpdateRating(userRating.Value, oppRating.Value, outcome)
	newOpp := league.UpdateRating(oppRating.Value, userRating.Value, league.Outcome(1-in.Outcome))
	userRating.Value = newUser
	oppRating.Value = newOpp

	if err := s.store.SaveRating(r.Context(), userRating); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.SaveRating(r.Context(), oppRating); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     userRating,
		"opponent": oppRating,
	})
}

// handleReplaceRules validates and swaps the league's rule set wholesale.
func (s *Server) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "league_id")
	var cfg league.RuleSetConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rules, err := league.NewRuleSet(cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.ReplaceRules(r.Context(), leagueID, rules); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCompleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.store.CompleteDraft(r.Context(), chi.URLParam(r, "league_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case league.IsRejection(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, league.ErrInvalidRuleSet):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrLeagueNotFound), errors.Is(err, store.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateIdempotency), errors.Is(err, store.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
