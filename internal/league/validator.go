package league

import (
	"fmt"
	"strings"
)

// CheckRules runs the league-wide legality checks for a proposed order, in a
// fixed order: malformed order, blocked symbol, allow-list, trade value
// bounds, daily trade cap, then the side-specific cash/position/short
// checks. The first failing check wins. A nil return means the order is
// legal under the rule set.
//
// The check is purely evaluative and safe to call twice: once standalone for
// a UI preview and once immediately before the ledger commit.
func CheckRules(order Order, portfolio Portfolio, holdings []Holding, rules RuleSet, dailyTradeCount int) error {
	if order.Shares <= 0 || order.Price <= 0 {
		return fmt.Errorf("%w: got shares=%g price=%g", ErrMalformedOrder, order.Shares, order.Price)
	}

	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	if containsSymbol(rules.BlockedSymbols, symbol) {
		return fmt.Errorf("%w: %s", ErrSymbolBlocked, symbol)
	}
	if len(rules.AllowedSymbols) > 0 && !containsSymbol(rules.AllowedSymbols, symbol) {
		return fmt.Errorf("%w: %s", ErrSymbolNotAllowed, symbol)
	}

	value := order.Value()
	if value < rules.MinTradeValue {
		return fmt.Errorf("%w: %.2f < %.2f", ErrTradeValueTooSmall, value, rules.MinTradeValue)
	}
	if rules.MaxTradeValue > 0 && value > rules.MaxTradeValue {
		return fmt.Errorf("%w: %.2f > %.2f", ErrTradeValueTooLarge, value, rules.MaxTradeValue)
	}

	if rules.MaxDailyTrades > 0 && dailyTradeCount >= rules.MaxDailyTrades {
		return fmt.Errorf("%w: %d trades today, limit %d", ErrDailyTradeLimit, dailyTradeCount, rules.MaxDailyTrades)
	}

	switch order.Side {
	case SideBuy:
		return checkBuy(order, symbol, value, portfolio, holdings, rules)
	case SideSell:
		return checkSell(order, symbol, portfolio, holdings, rules)
	default:
		return fmt.Errorf("%w: side must be buy or sell", ErrMalformedOrder)
	}
}

func checkBuy(order Order, symbol string, value float64, portfolio Portfolio, holdings []Holding, rules RuleSet) error {
	fee := rules.Fee(value)
	totalCost := value + fee
	if totalCost > portfolio.Cash {
		return fmt.Errorf("%w: need %.2f (incl. %.2f fee), have %.2f", ErrInsufficientFunds, totalCost, fee, portfolio.Cash)
	}

	heldShares := sharesHeld(holdings, symbol)
	if rules.MaxPositions > 0 && heldShares <= 0 {
		open := 0
		for _, h := range holdings {
			if h.Shares > 0 {
				open++
			}
		}
		if open >= rules.MaxPositions {
			return fmt.Errorf("%w: already holding %d positions", ErrTooManyPositions, open)
		}
	}

	resulting := (heldShares + order.Shares) * order.Price
	if rules.MaxPositionValue > 0 && resulting > rules.MaxPositionValue {
		return fmt.Errorf("%w: %.2f > %.2f", ErrPositionTooLarge, resulting, rules.MaxPositionValue)
	}

	if rules.MaxPositionPercent > 0 {
		total := markedTotalValue(portfolio, holdings, symbol, order.Price)
		if total > 0 {
			pct := resulting / total * 100
			if pct > rules.MaxPositionPercent {
				return fmt.Errorf("%w: %.1f%% > %.1f%%", ErrPositionConcentrated, pct, rules.MaxPositionPercent)
			}
		}
	}
	return nil
}

func checkSell(order Order, symbol string, portfolio Portfolio, holdings []Holding, rules RuleSet) error {
	held := sharesHeld(holdings, symbol)
	if order.Shares <= held {
		return nil
	}
	if !rules.AllowShorting {
		return fmt.Errorf("%w: selling %g shares, holding %g", ErrShortingNotAllowed, order.Shares, held)
	}
	// Shorting is on: the uncovered part of the sell opens short exposure,
	// capped at (max_leverage - 1) of the marked portfolio value.
	shortValue := (order.Shares - held) * order.Price
	capacity := (rules.MaxLeverage - 1) * markedTotalValue(portfolio, holdings, symbol, order.Price)
	if shortValue > capacity {
		return fmt.Errorf("%w: short exposure %.2f exceeds capacity %.2f", ErrLeverageExceeded, shortValue, capacity)
	}
	return nil
}

// ValidateOrder is the full legality check for an order: the league rule set
// first, then the competition mode's own rules layered on top. userID feeds
// the mode checks that are per-member (draft ownership).
func ValidateOrder(userID string, order Order, portfolio Portfolio, holdings []Holding, rules RuleSet, mode Mode, dailyTradeCount int) error {
	if err := CheckRules(order, portfolio, holdings, rules, dailyTradeCount); err != nil {
		return err
	}
	return mode.ValidateTrade(userID, order, portfolio, holdings, rules)
}

// sharesHeld returns the shares held for symbol, 0 when the symbol is not in
// the holdings.
func sharesHeld(holdings []Holding, symbol string) float64 {
	for _, h := range holdings {
		if strings.EqualFold(h.Symbol, symbol) {
			return h.Shares
		}
	}
	return 0
}

// markedTotalValue is cash plus all holdings, with the traded symbol marked
// at the trade's own price and everything else at its current quote.
func markedTotalValue(portfolio Portfolio, holdings []Holding, tradedSymbol string, tradePrice float64) float64 {
	total := portfolio.Cash
	for _, h := range holdings {
		if strings.EqualFold(h.Symbol, tradedSymbol) {
			total += h.Shares * tradePrice
		} else {
			total += h.Shares * h.CurrentPrice
		}
	}
	return total
}
