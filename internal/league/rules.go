package league

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidRuleSet = errors.New("invalid rule set")

	ErrMalformedOrder       = errors.New("order shares and price must be > 0")
	ErrSymbolBlocked        = errors.New("symbol is blocked in this league")
	ErrSymbolNotAllowed     = errors.New("symbol is not allowed in this league")
	ErrTradeValueTooSmall   = errors.New("trade value below league minimum")
	ErrTradeValueTooLarge   = errors.New("trade value above league maximum")
	ErrDailyTradeLimit      = errors.New("daily trade limit reached")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTooManyPositions     = errors.New("position limit reached")
	ErrPositionTooLarge     = errors.New("position value limit exceeded")
	ErrPositionConcentrated = errors.New("position concentration limit exceeded")
	ErrShortingNotAllowed   = errors.New("short selling not allowed")
	ErrLeverageExceeded     = errors.New("leverage limit exceeded")
	ErrDraftNotComplete     = errors.New("draft is not complete")
	ErrSymbolNotDrafted     = errors.New("symbol is not in your drafted stocks")
)

// rejections lists every expected, user-facing rejection. Anything else
// coming out of this package is a programming error, not a trade outcome.
var rejections = []error{
	ErrMalformedOrder,
	ErrSymbolBlocked,
	ErrSymbolNotAllowed,
	ErrTradeValueTooSmall,
	ErrTradeValueTooLarge,
	ErrDailyTradeLimit,
	ErrInsufficientFunds,
	ErrTooManyPositions,
	ErrPositionTooLarge,
	ErrPositionConcentrated,
	ErrShortingNotAllowed,
	ErrLeverageExceeded,
	ErrDraftNotComplete,
	ErrSymbolNotDrafted,
}

// IsRejection reports whether err is an expected trade rejection rather
// than a fault.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// RuleSetConfig is the raw, unvalidated form of a league's constraints, as
// stored and as submitted by admins. Zero means "no limit" for the optional
// numeric fields; empty slices mean "unrestricted" for the symbol sets.
type RuleSetConfig struct {
	StartingCash          float64  `json:"starting_cash"`
	MaxPositions          int      `json:"max_positions,omitempty"`
	MaxPositionValue      float64  `json:"max_position_value,omitempty"`
	MaxPositionPercent    float64  `json:"max_position_percent,omitempty"`
	TransactionFeePercent float64  `json:"transaction_fee_percent"`
	TransactionFeeFlat    float64  `json:"transaction_fee_flat"`
	AllowShorting         bool     `json:"allow_shorting"`
	MaxLeverage           float64  `json:"max_leverage"`
	MinTradeValue         float64  `json:"min_trade_value"`
	MaxTradeValue         float64  `json:"max_trade_value,omitempty"`
	AllowedSymbols        []string `json:"allowed_symbols,omitempty"`
	BlockedSymbols        []string `json:"blocked_symbols,omitempty"`
	MaxDailyTrades        int      `json:"max_daily_trades,omitempty"`
}

// RuleSet is a validated, normalized constraint configuration. Built once at
// league creation and replaced wholesale on admin updates; never mutated.
type RuleSet struct {
	StartingCash          float64  `json:"starting_cash"`
	MaxPositions          int      `json:"max_positions,omitempty"`
	MaxPositionValue      float64  `json:"max_position_value,omitempty"`
	MaxPositionPercent    float64  `json:"max_position_percent,omitempty"`
	TransactionFeePercent float64  `json:"transaction_fee_percent"`
	TransactionFeeFlat    float64  `json:"transaction_fee_flat"`
	AllowShorting         bool     `json:"allow_shorting"`
	MaxLeverage           float64  `json:"max_leverage"`
	MinTradeValue         float64  `json:"min_trade_value"`
	MaxTradeValue         float64  `json:"max_trade_value,omitempty"`
	AllowedSymbols        []string `json:"allowed_symbols,omitempty"`
	BlockedSymbols        []string `json:"blocked_symbols,omitempty"`
	MaxDailyTrades        int      `json:"max_daily_trades,omitempty"`
}

// NewRuleSet validates and normalizes a configuration. Invalid combinations
// are rejected here, at league creation, never at trade time.
func NewRuleSet(cfg RuleSetConfig) (RuleSet, error) {
	if cfg.TransactionFeePercent < 0 || cfg.TransactionFeeFlat < 0 {
		return RuleSet{}, fmt.Errorf("%w: transaction fees must be >= 0", ErrInvalidRuleSet)
	}
	if cfg.TransactionFeePercent > 100 {
		return RuleSet{}, fmt.Errorf("%w: transaction fee percent must be <= 100", ErrInvalidRuleSet)
	}
	if cfg.MaxPositionPercent < 0 || cfg.MaxPositionPercent > 100 {
		return RuleSet{}, fmt.Errorf("%w: max position percent must be between 0 and 100", ErrInvalidRuleSet)
	}
	if cfg.MaxPositions < 0 || cfg.MaxDailyTrades < 0 {
		return RuleSet{}, fmt.Errorf("%w: limits must be >= 0", ErrInvalidRuleSet)
	}
	if cfg.MaxPositionValue < 0 {
		return RuleSet{}, fmt.Errorf("%w: max position value must be >= 0", ErrInvalidRuleSet)
	}
	if cfg.MinTradeValue < 0 {
		return RuleSet{}, fmt.Errorf("%w: min trade value must be >= 0", ErrInvalidRuleSet)
	}
	if cfg.MaxTradeValue != 0 && cfg.MaxTradeValue < cfg.MinTradeValue {
		return RuleSet{}, fmt.Errorf("%w: max trade value below min trade value", ErrInvalidRuleSet)
	}
	leverage := cfg.MaxLeverage
	if leverage == 0 {
		leverage = 1.0
	}
	if leverage < 1.0 {
		return RuleSet{}, fmt.Errorf("%w: max leverage must be >= 1.0", ErrInvalidRuleSet)
	}

	allowed := normalizeSymbols(cfg.AllowedSymbols)
	blocked := normalizeSymbols(cfg.BlockedSymbols)
	if len(allowed) > 0 && len(blocked) > 0 {
		for _, sym := range allowed {
			if containsSymbol(blocked, sym) {
				return RuleSet{}, fmt.Errorf("%w: symbol %s is both allowed and blocked", ErrInvalidRuleSet, sym)
			}
		}
	}

	return RuleSet{
		StartingCash:          cfg.StartingCash,
		MaxPositions:          cfg.MaxPositions,
		MaxPositionValue:      cfg.MaxPositionValue,
		MaxPositionPercent:    cfg.MaxPositionPercent,
		TransactionFeePercent: cfg.TransactionFeePercent,
		TransactionFeeFlat:    cfg.TransactionFeeFlat,
		AllowShorting:         cfg.AllowShorting,
		MaxLeverage:           leverage,
		MinTradeValue:         cfg.MinTradeValue,
		MaxTradeValue:         cfg.MaxTradeValue,
		AllowedSymbols:        allowed,
		BlockedSymbols:        blocked,
		MaxDailyTrades:        cfg.MaxDailyTrades,
	}, nil
}

// Fee is the league-default fee for a trade of the given gross value.
// Applied to buys only; sells settle at gross proceeds.
func (rs RuleSet) Fee(tradeValue float64) float64 {
	fee := rs.TransactionFeeFlat + tradeValue*rs.TransactionFeePercent/100
	if fee < 0 {
		return 0
	}
	return fee
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || containsSymbol(out, s) {
			continue
		}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
