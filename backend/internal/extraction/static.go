package extraction

import (
	"context"

	kgerrors "kgraph/backend/pkg/errors"
)

// Static returns the same knowledge for every text. It backs offline mode
// and tests that need a deterministic extractor.
type Static struct {
	Knowledge Knowledge
}

var _ Extractor = (*Static)(nil)

// NewStatic parses raw with the same strict rules as a provider response
func NewStatic(raw string) (*Static, error) {
	k, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Static{Knowledge: k.Normalized()}, nil
}

// Extract implements Extractor
func (s *Static) Extract(ctx context.Context, text string) (*Knowledge, error) {
	if err := ctx.Err(); err != nil {
		return nil, kgerrors.New(kgerrors.KindCanceled, "extraction.Static", "extraction canceled", err)
	}
	if text == "" {
		return nil, kgerrors.InvalidInput("extraction.Static", "text is empty")
	}
	k := s.Knowledge
	k.MainTopics = append([]string(nil), k.MainTopics...)
	k.Subtopics = append([]string(nil), k.Subtopics...)
	k.Entities = append([]string(nil), k.Entities...)
	k.Relations = append([]Relation(nil), k.Relations...)
	return &k, nil
}
