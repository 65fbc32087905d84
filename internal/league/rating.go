package league

import "math"

const (
	// BaseRating is the rating given to a member with no scoring history.
	BaseRating = 1600.0

	// RatingK is the fixed Elo K-factor.
	RatingK = 32.0

	// DefaultMatchTolerance is the rating-point window for opponent search.
	DefaultMatchTolerance = 200.0
)

// Outcome is the resolved result of a head-to-head match, from the rated
// member's side.
type Outcome float64

const (
	OutcomeWin  Outcome = 1
	OutcomeDraw Outcome = 0.5
	OutcomeLoss Outcome = 0
)

// ExpectedScore is the Elo win expectancy against an opponent.
func ExpectedScore(rating, opponentRating float64) float64 {
	return 1 / (1 + math.Pow(10, (opponentRating-rating)/400))
}

// UpdateRating returns the post-match rating. With both sides on the same
// K-factor, updates are symmetric: the winner gains exactly what the loser
// loses.
func UpdateRating(rating, opponentRating float64, outcome Outcome) float64 {
	return rating + RatingK*(float64(outcome)-ExpectedScore(rating, opponentRating))
}

// InitialRating seeds an unseen (user, league) pair: the mean of the user's
// historical scores within the league, or BaseRating with no history.
func InitialRating(historicalScores []float64) float64 {
	if len(historicalScores) == 0 {
		return BaseRating
	}
	return meanOf(historicalScores)
}

// FindOpponent picks the candidate within tolerance rating points whose
// rating is closest to the user's. Equal distances resolve to the smallest
// user id so matching stays reproducible. ok is false when no candidate
// qualifies.
func FindOpponent(user Rating, candidates []Rating, tolerance float64) (Rating, bool) {
	if tolerance <= 0 {
		tolerance = DefaultMatchTolerance
	}
	var best Rating
	bestDist := math.Inf(1)
	found := false
	for _, cand := range candidates {
		if cand.UserID == user.UserID {
			continue
		}
		dist := math.Abs(cand.Value - user.Value)
		if dist > tolerance {
			continue
		}
		if dist < bestDist || (dist == bestDist && cand.UserID < best.UserID) {
			best = cand
			bestDist = dist
			found = true
		}
	}
	return best, found
}
