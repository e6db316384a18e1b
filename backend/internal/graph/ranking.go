package graph

import (
	"cmp"
	"slices"
)

// SortRelated orders neighbors by connection strength, then node weight.
// Remaining ties fall back to topic and relation type so results are stable.
func SortRelated(rows []RelatedTopic) {
	slices.SortStableFunc(rows, func(a, b RelatedTopic) int {
		if c := cmp.Compare(b.ConnectionStrength, a.ConnectionStrength); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Topic, b.Topic); c != 0 {
			return c
		}
		return cmp.Compare(a.RelationType, b.RelationType)
	})
}

// SortRanked orders nodes by weight, then connection count, then id
func SortRanked(rows []RankedNode) {
	slices.SortStableFunc(rows, func(a, b RankedNode) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Connections, a.Connections); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
}

// Truncate caps a slice at limit; limit <= 0 keeps everything
func Truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// SortContexts returns a sorted copy of a context-type set
func SortContexts(set map[ContextType]struct{}) []ContextType {
	out := make([]ContextType, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
