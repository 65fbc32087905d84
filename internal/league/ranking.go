package league

import "sort"

// RankMembers orders members for the standings: score descending, then the
// mode's tiebreak key ascending for exact score ties. The input slice is not
// modified.
func RankMembers(members []Member, mode Mode) []Member {
	ranked := make([]Member, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return lessKey(mode.TiebreakKey(ranked[i]), mode.TiebreakKey(ranked[j]))
	})
	return ranked
}

func lessKey(a, b []float64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
