package league

import (
	"testing"
	"time"
)

func TestRankMembersByScore(t *testing.T) {
	mode, _ := ModeFromConfig(ModeConfig{Kind: "absolute_value"})
	members := []Member{
		{UserID: "b", Score: 5_000},
		{UserID: "a", Score: 10_000},
		{UserID: "c", Score: 1_000},
	}
	ranked := RankMembers(members, mode)
	if got := []string{ranked[0].UserID, ranked[1].UserID, ranked[2].UserID}; got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", got)
	}
	// Input stays untouched.
	if members[0].UserID != "b" {
		t.Fatalf("input slice was reordered")
	}
}

func TestRankMembersAbsoluteTiebreak(t *testing.T) {
	mode, _ := ModeFromConfig(ModeConfig{Kind: "absolute_value"})
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []Member{
		{UserID: "late", Score: 10_000, JoinedAt: early.AddDate(0, 0, 7)},
		{UserID: "early", Score: 10_000, JoinedAt: early},
	}
	ranked := RankMembers(members, mode)
	if ranked[0].UserID != "early" {
		t.Fatalf("tie went to %s, want the earlier join", ranked[0].UserID)
	}
}

func TestRankMembersPercentageTiebreak(t *testing.T) {
	mode, _ := ModeFromConfig(ModeConfig{Kind: "percentage_return"})
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []Member{
		{UserID: "small", Score: 20, TotalValue: 6_000, JoinedAt: joined},
		{UserID: "big", Score: 20, TotalValue: 12_000, JoinedAt: joined.AddDate(0, 0, 7)},
	}
	ranked := RankMembers(members, mode)
	if ranked[0].UserID != "big" {
		t.Fatalf("tie went to %s, want the larger portfolio", ranked[0].UserID)
	}

	// Same total value falls through to join time.
	members[1].TotalValue = 6_000
	ranked = RankMembers(members, mode)
	if ranked[0].UserID != "small" {
		t.Fatalf("second tiebreak went to %s, want the earlier join", ranked[0].UserID)
	}
}
