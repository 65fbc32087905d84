package league

import (
	"fmt"
	"strings"
)

// ModeKind enumerates the six competition variants. The set is closed: every
// operation on Mode switches over all six kinds so a new variant cannot be
// added without the compiler-visible switches being touched.
type ModeKind string

const (
	ModeAbsoluteValue    ModeKind = "absolute_value"
	ModePercentageReturn ModeKind = "percentage_return"
	ModeRiskAdjusted     ModeKind = "risk_adjusted"
	ModeLimitedCapital   ModeKind = "limited_capital"
	ModeSectorRestricted ModeKind = "sector_restricted"
	ModeDraft            ModeKind = "draft"
)

const (
	defaultMinSnapshots       = 5
	limitedCapitalPositions   = 10
	limitedCapitalPositionPct = 25.0
)

// DraftState is the draft variant's sub-configuration. DraftComplete flips
// once, draft phase to trading phase, and never reverts.
type DraftState struct {
	StocksPerMember int                 `json:"stocks_per_member"`
	DraftedStocks   map[string][]string `json:"drafted_stocks,omitempty"`
	DraftComplete   bool                `json:"draft_complete"`
}

// ModeConfig is the stored form of a league's mode selection plus rule
// overrides. Round-trips through JSON without loss.
type ModeConfig struct {
	Kind               string      `json:"kind"`
	FeePercent         float64     `json:"fee_percent,omitempty"`
	MinSnapshots       int         `json:"min_snapshots,omitempty"`
	MaxPositions       int         `json:"max_positions,omitempty"`
	MaxPositionPercent float64     `json:"max_position_percent,omitempty"`
	AllowedSymbols     []string    `json:"allowed_symbols,omitempty"`
	Draft              *DraftState `json:"draft,omitempty"`
}

// Mode is a configured competition variant: scoring formula, mode-specific
// trade legality layered on top of the rule set, tiebreak ordering and the
// mode's own fee schedule.
type Mode struct {
	Kind               ModeKind
	FeePercent         float64
	MinSnapshots       int
	MaxPositions       int
	MaxPositionPercent float64
	AllowedSymbols     []string
	Draft              DraftState
}

// ModeFromConfig resolves a mode identifier and its overrides into a
// configured variant. An unknown identifier yields the AbsoluteValue default
// and ok=false; the permissive fallback is long-standing documented behavior
// (existing leagues depend on it), so callers log rather than fail.
func ModeFromConfig(cfg ModeConfig) (Mode, bool) {
	mode := Mode{
		Kind:       ModeAbsoluteValue,
		FeePercent: cfg.FeePercent,
	}
	kind := ModeKind(strings.ToLower(strings.TrimSpace(cfg.Kind)))
	switch kind {
	case ModeAbsoluteValue, ModePercentageReturn:
		mode.Kind = kind
	case ModeRiskAdjusted:
		mode.Kind = kind
		mode.MinSnapshots = cfg.MinSnapshots
		if mode.MinSnapshots <= 0 {
			mode.MinSnapshots = defaultMinSnapshots
		}
	case ModeLimitedCapital:
		mode.Kind = kind
		mode.MaxPositions = cfg.MaxPositions
		if mode.MaxPositions <= 0 {
			mode.MaxPositions = limitedCapitalPositions
		}
		mode.MaxPositionPercent = cfg.MaxPositionPercent
		if mode.MaxPositionPercent <= 0 {
			mode.MaxPositionPercent = limitedCapitalPositionPct
		}
	case ModeSectorRestricted:
		mode.Kind = kind
		mode.AllowedSymbols = normalizeSymbols(cfg.AllowedSymbols)
	case ModeDraft:
		mode.Kind = kind
		if cfg.Draft != nil {
			mode.Draft = *cfg.Draft
		}
	default:
		return mode, false
	}
	return mode, true
}

// Config converts the mode back to its stored form.
func (m Mode) Config() ModeConfig {
	cfg := ModeConfig{
		Kind:               string(m.Kind),
		FeePercent:         m.FeePercent,
		MinSnapshots:       m.MinSnapshots,
		MaxPositions:       m.MaxPositions,
		MaxPositionPercent: m.MaxPositionPercent,
		AllowedSymbols:     m.AllowedSymbols,
	}
	if m.Kind == ModeDraft {
		draft := m.Draft
		cfg.Draft = &draft
	}
	return cfg
}

// Score computes the member's competitive score. Pure: identical inputs give
// bit-identical results.
func (m Mode) Score(totalValue, startingCash float64, snapshots []PortfolioSnapshot) float64 {
	switch m.Kind {
	case ModeAbsoluteValue:
		return totalValue
	case ModePercentageReturn, ModeLimitedCapital, ModeSectorRestricted, ModeDraft:
		return percentageReturnScore(totalValue, startingCash)
	case ModeRiskAdjusted:
		minSnapshots := m.MinSnapshots
		if minSnapshots <= 0 {
			minSnapshots = defaultMinSnapshots
		}
		if len(snapshots) < minSnapshots {
			return percentageReturnScore(totalValue, startingCash)
		}
		return AnnualizedSharpe(snapshots, DefaultAnnualRiskFree)
	default:
		// Unresolvable kinds score like the factory default.
		return totalValue
	}
}

// ValidateTrade applies the mode's own legality rules. These layer on top of
// CheckRules, never replace it.
func (m Mode) ValidateTrade(userID string, order Order, portfolio Portfolio, holdings []Holding, rules RuleSet) error {
	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	switch m.Kind {
	case ModeAbsoluteValue, ModePercentageReturn:
		if order.Side == SideSell && order.Shares > sharesHeld(holdings, symbol) && !rules.AllowShorting {
			return fmt.Errorf("%w: selling %g shares, holding %g", ErrShortingNotAllowed, order.Shares, sharesHeld(holdings, symbol))
		}
		return nil
	case ModeRiskAdjusted:
		return nil
	case ModeLimitedCapital:
		return m.validateLimitedCapital(order, symbol, portfolio, holdings)
	case ModeSectorRestricted:
		// Only buys are restricted: a member may always exit a position
		// acquired before the sector list changed.
		if order.Side == SideBuy && !containsSymbol(m.AllowedSymbols, symbol) {
			return fmt.Errorf("%w: %s is outside this league's sectors", ErrSymbolNotAllowed, symbol)
		}
		return nil
	case ModeDraft:
		if !m.Draft.DraftComplete {
			return fmt.Errorf("%w: trading opens when every member has drafted", ErrDraftNotComplete)
		}
		if !containsSymbol(m.Draft.DraftedStocks[userID], symbol) {
			return fmt.Errorf("%w: %s", ErrSymbolNotDrafted, symbol)
		}
		return nil
	default:
		return nil
	}
}

func (m Mode) validateLimitedCapital(order Order, symbol string, portfolio Portfolio, holdings []Holding) error {
	if order.Side != SideBuy {
		return nil
	}
	held := sharesHeld(holdings, symbol)
	if m.MaxPositions > 0 && held <= 0 {
		open := 0
		for _, h := range holdings {
			if h.Shares > 0 {
				open++
			}
		}
		if open >= m.MaxPositions {
			return fmt.Errorf("%w: mode caps positions at %d", ErrTooManyPositions, m.MaxPositions)
		}
	}
	if m.MaxPositionPercent > 0 {
		total := markedTotalValue(portfolio, holdings, symbol, order.Price)
		if total > 0 {
			pct := (held + order.Shares) * order.Price / total * 100
			if pct > m.MaxPositionPercent {
				return fmt.Errorf("%w: %.1f%% > %.1f%% (mode limit)", ErrPositionConcentrated, pct, m.MaxPositionPercent)
			}
		}
	}
	return nil
}

// Fee applies the mode's own fee percent, which may override the league
// default fee schedule.
func (m Mode) Fee(tradeValue float64) float64 {
	fee := tradeValue * m.FeePercent / 100
	if fee < 0 {
		return 0
	}
	return fee
}

// TiebreakKey orders members whose scores are exactly equal. Keys compare
// ascending element-wise; descending fields are negated. Keys are computed
// per sort, never stored.
func (m Mode) TiebreakKey(member Member) []float64 {
	switch m.Kind {
	case ModeAbsoluteValue:
		return []float64{float64(member.JoinedAt.UnixNano())}
	case ModePercentageReturn:
		return []float64{-member.TotalValue, float64(member.JoinedAt.UnixNano())}
	case ModeRiskAdjusted, ModeLimitedCapital, ModeSectorRestricted, ModeDraft:
		return []float64{-member.TotalValue}
	default:
		return []float64{float64(member.JoinedAt.UnixNano())}
	}
}

func percentageReturnScore(totalValue, startingCash float64) float64 {
	if startingCash <= 0 {
		return 0
	}
	return (totalValue - startingCash) / startingCash * 100
}
