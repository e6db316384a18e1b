package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rodeo ", "rodeo"},
		{"rodeo", "rodeo"},
		{"ROdeo", "rodeo"},
		{"  Horseback   Riding\t", "horseback riding"},
		{"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalizeRelationType(t *testing.T) {
	assert.Equal(t, "used_with", NormalizeRelationType("Used With"))
	assert.Equal(t, "part_of", NormalizeRelationType("part-of"))
	assert.Equal(t, RelationRelatedTo, NormalizeRelationType(""))
	assert.Equal(t, RelationRelatedTo, NormalizeRelationType("  "))
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"Rodeo", "horses", "rodeo ", "", "Horses", "saddle"})
	assert.Equal(t, []string{"rodeo", "horses", "saddle"}, got)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestIsInterest(t *testing.T) {
	assert.True(t, IsInterest(SentimentPositive, nil))
	assert.True(t, IsInterest(SentimentNegative, []ContextType{ContextDiscussing, ContextCuriousAbout}))
	assert.False(t, IsInterest(SentimentNeutral, []ContextType{ContextLearning, ContextNeutral}))
}

func TestSortRanked(t *testing.T) {
	rows := []RankedNode{
		{Topic: "b", Weight: 1},
		{Topic: "a", Weight: 1},
		{Topic: "c", Weight: 1, Connections: 2},
		{Topic: "d", Weight: 4},
	}
	SortRanked(rows)

	var got []string
	for _, r := range rows {
		got = append(got, r.Topic)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, got)
}

func TestTruncate(t *testing.T) {
	assert.Len(t, Truncate([]int{1, 2, 3}, 2), 2)
	assert.Len(t, Truncate([]int{1, 2, 3}, 0), 3)
	assert.Len(t, Truncate([]int{1}, 5), 1)
}
