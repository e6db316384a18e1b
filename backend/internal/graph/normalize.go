package graph

import (
	"slices"
	"strings"
)

// Normalize maps a label to its node id: trimmed, lowercased, with internal
// whitespace runs collapsed to one space.
func Normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// NormalizeRelationType lowercases a relation type and joins its words with
// underscores. An empty type becomes related_to.
func NormalizeRelationType(rel string) string {
	rel = strings.ReplaceAll(strings.ToLower(rel), "-", " ")
	rel = strings.Join(strings.Fields(rel), "_")
	if rel == "" {
		return RelationRelatedTo
	}
	return rel
}

// NormalizeAll normalizes labels, dropping empties and duplicates while
// keeping first-seen order.
func NormalizeAll(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		id := Normalize(l)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PairKey is the orientation-free identity of an edge's endpoints
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b
}

// IsInterest reports whether a node counts as a user interest
func IsInterest(sentiment Sentiment, contexts []ContextType) bool {
	if sentiment == SentimentPositive {
		return true
	}
	for _, c := range contexts {
		if slices.Contains(InterestContexts, c) {
			return true
		}
	}
	return false
}

// ValidNodeType reports whether t is a known node type
func ValidNodeType(t NodeType) bool {
	switch t {
	case NodeTypeMainTopic, NodeTypeSubtopic, NodeTypeEntity:
		return true
	}
	return false
}

// ValidSentiment reports whether s is a known sentiment
func ValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}
