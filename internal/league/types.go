package league

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is a proposed trade, not yet committed anywhere.
type Order struct {
	Symbol string  `json:"symbol"`
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
	Side   Side    `json:"side"`
}

// Value is the gross trade value, before fees.
func (o Order) Value() float64 {
	return o.Shares * o.Price
}

// Holding is one open position, marked by the caller with a current quote.
type Holding struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	AverageCost  float64 `json:"average_cost"`
	CurrentPrice float64 `json:"current_price"`
}

// Portfolio is the cash side of a member's account. Holdings travel
// separately so a validator can re-mark the traded symbol at the order price.
type Portfolio struct {
	Cash float64 `json:"cash"`
}

// PortfolioSnapshot is one timestamped total-value sample. Snapshot series
// are append-only and ordered by timestamp; every time-series statistic in
// this package folds over them.
type PortfolioSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Cash       float64   `json:"cash"`
	TotalValue float64   `json:"total_value"`
}

// Trade is one committed trade from the ledger history. RealizedPnL is zero
// for buys and for sells that closed flat.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Shares      float64   `json:"shares"`
	Price       float64   `json:"price"`
	ExecutedAt  time.Time `json:"executed_at"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// Value is the dollar volume of the trade.
func (t Trade) Value() float64 {
	return t.Shares * t.Price
}

// Member is a scored league participant, the unit of ranking.
type Member struct {
	UserID     string    `json:"user_id"`
	Score      float64   `json:"score"`
	TotalValue float64   `json:"total_value"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Rating is a member's matchmaking skill rating within one league.
type Rating struct {
	UserID   string  `json:"user_id"`
	LeagueID string  `json:"league_id"`
	Value    float64 `json:"value"`
	KFactor  float64 `json:"k_factor"`
}

type FlagType string

const (
	FlagRapidTrading   FlagType = "rapid_trading"
	FlagUnusualWinRate FlagType = "unusual_win_rate"
	FlagVolumeSpike    FlagType = "volume_spike"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FairPlayFlag is an advisory anomaly signal. Flags never block trades;
// acting on them is a moderation concern outside this package.
type FairPlayFlag struct {
	UserID      string    `json:"user_id"`
	LeagueID    string    `json:"league_id"`
	Type        FlagType  `json:"flag_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}
