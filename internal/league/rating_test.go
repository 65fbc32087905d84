package league

import (
	"math"
	"testing"
)

func TestUpdateRatingEvenMatch(t *testing.T) {
	winner := UpdateRating(1600, 1600, OutcomeWin)
	loser := UpdateRating(1600, 1600, OutcomeLoss)
	if winner != 1616.0 {
		t.Fatalf("winner rating = %v, want 1616.0", winner)
	}
	if loser != 1584.0 {
		t.Fatalf("loser rating = %v, want 1584.0", loser)
	}
}

func TestUpdateRatingSymmetry(t *testing.T) {
	pairs := [][2]float64{{1700, 1500}, {1500, 1700}, {1600, 1600}, {2100, 1450}}
	for _, p := range pairs {
		gain := UpdateRating(p[0], p[1], OutcomeWin) - p[0]
		loss := p[1] - UpdateRating(p[1], p[0], OutcomeLoss)
		if !closeTo(gain, loss) {
			t.Fatalf("ratings %v/%v: winner gained %v but loser lost %v", p[0], p[1], gain, loss)
		}
	}
}

func TestUpdateRatingDraw(t *testing.T) {
	// A draw between equals changes nothing.
	if got := UpdateRating(1600, 1600, OutcomeDraw); got != 1600 {
		t.Fatalf("rating after even draw = %v, want 1600", got)
	}
	// A draw against a stronger opponent gains points.
	if got := UpdateRating(1500, 1700, OutcomeDraw); got <= 1500 {
		t.Fatalf("underdog draw rating = %v, want > 1500", got)
	}
}

func TestExpectedScore(t *testing.T) {
	if got := ExpectedScore(1600, 1600); got != 0.5 {
		t.Fatalf("even expectancy = %v, want 0.5", got)
	}
	strong := ExpectedScore(1800, 1600)
	weak := ExpectedScore(1600, 1800)
	if strong <= 0.5 || weak >= 0.5 {
		t.Fatalf("expectancies = %v/%v, want > 0.5 and < 0.5", strong, weak)
	}
	if !closeTo(strong+weak, 1) {
		t.Fatalf("expectancies sum to %v, want 1", strong+weak)
	}
}

func TestInitialRating(t *testing.T) {
	if got := InitialRating(nil); got != BaseRating {
		t.Fatalf("seed rating = %v, want %v", got, BaseRating)
	}
	if got := InitialRating([]float64{10, 20, 30}); got != 20 {
		t.Fatalf("seed rating = %v, want 20", got)
	}
}

func TestFindOpponent(t *testing.T) {
	user := Rating{UserID: "carol", Value: 1500}
	candidates := []Rating{
		{UserID: "dave", Value: 1800},
		{UserID: "bob", Value: 1600},
		{UserID: "alice", Value: 1400},
	}

	got, ok := FindOpponent(user, candidates, 150)
	if !ok {
		t.Fatalf("no opponent found within tolerance")
	}
	// alice and bob are both 100 points away; the tie resolves to the
	// smaller user id.
	if got.UserID != "alice" {
		t.Fatalf("opponent = %s, want alice", got.UserID)
	}

	if _, ok := FindOpponent(user, candidates, 50); ok {
		t.Fatalf("found an opponent outside tolerance")
	}

	// The default tolerance of 200 kicks in for non-positive values.
	if _, ok := FindOpponent(user, candidates, 0); !ok {
		t.Fatalf("default tolerance did not apply")
	}
}

func TestFindOpponentSkipsSelf(t *testing.T) {
	user := Rating{UserID: "alice", Value: 1500}
	candidates := []Rating{{UserID: "alice", Value: 1500}}
	if _, ok := FindOpponent(user, candidates, 200); ok {
		t.Fatalf("matched the user against themselves")
	}
}

func TestUpdateRatingUsesFixedK(t *testing.T) {
	// The maximum single-match swing is the K-factor itself.
	delta := math.Abs(UpdateRating(1000, 3000, OutcomeWin) - 1000)
	if delta > RatingK {
		t.Fatalf("rating moved %v, over the K-factor %v", delta, RatingK)
	}
}
