package league

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestNewRuleSetNormalizesSymbols(t *testing.T) {
	rules, err := NewRuleSet(RuleSetConfig{
		StartingCash:   10_000,
		AllowedSymbols: []string{" aapl", "MSFT", "aapl", ""},
		BlockedSymbols: []string{"gme "},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"AAPL", "MSFT"}; !reflect.DeepEqual(rules.AllowedSymbols, want) {
		t.Fatalf("allowed = %v, want %v", rules.AllowedSymbols, want)
	}
	if want := []string{"GME"}; !reflect.DeepEqual(rules.BlockedSymbols, want) {
		t.Fatalf("blocked = %v, want %v", rules.BlockedSymbols, want)
	}
	if rules.MaxLeverage != 1.0 {
		t.Fatalf("leverage default = %v, want 1.0", rules.MaxLeverage)
	}
}

func TestNewRuleSetRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  RuleSetConfig
	}{
		{"negative flat fee", RuleSetConfig{TransactionFeeFlat: -1}},
		{"negative pct fee", RuleSetConfig{TransactionFeePercent: -0.1}},
		{"fee pct over 100", RuleSetConfig{TransactionFeePercent: 101}},
		{"position pct over 100", RuleSetConfig{MaxPositionPercent: 120}},
		{"negative position pct", RuleSetConfig{MaxPositionPercent: -5}},
		{"leverage below 1", RuleSetConfig{MaxLeverage: 0.5}},
		{"negative max positions", RuleSetConfig{MaxPositions: -1}},
		{"max below min trade value", RuleSetConfig{MinTradeValue: 100, MaxTradeValue: 50}},
		{"overlapping symbol sets", RuleSetConfig{
			AllowedSymbols: []string{"AAPL", "MSFT"},
			BlockedSymbols: []string{"msft"},
		}},
	}
	for _, tc := range tests {
		if _, err := NewRuleSet(tc.cfg); !errors.Is(err, ErrInvalidRuleSet) {
			t.Fatalf("%s: got %v, want ErrInvalidRuleSet", tc.name, err)
		}
	}
}

func TestRuleSetFee(t *testing.T) {
	rules, err := NewRuleSet(RuleSetConfig{
		TransactionFeeFlat:    2,
		TransactionFeePercent: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rules.Fee(1000); got != 12 {
		t.Fatalf("fee = %v, want 12", got)
	}
	if got := rules.Fee(0); got != 2 {
		t.Fatalf("fee = %v, want flat 2", got)
	}
}

func TestRuleSetRoundTripsJSON(t *testing.T) {
	rules, err := NewRuleSet(RuleSetConfig{
		StartingCash:          25_000,
		MaxPositions:          8,
		MaxPositionValue:      5_000,
		MaxPositionPercent:    20,
		TransactionFeePercent: 0.25,
		TransactionFeeFlat:    1,
		AllowShorting:         true,
		MaxLeverage:           2,
		MinTradeValue:         10,
		MaxTradeValue:         10_000,
		AllowedSymbols:        []string{"AAPL", "MSFT"},
		MaxDailyTrades:        25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back RuleSet
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(rules, back) {
		t.Fatalf("round trip lost fields:\n got %+v\nwant %+v", back, rules)
	}
}
