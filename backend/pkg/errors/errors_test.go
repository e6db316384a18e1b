package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("validate step: %w", EmptyExtraction("pipeline.validate"))

	assert.True(t, stderrors.Is(err, ErrEmptyExtraction))
	assert.False(t, stderrors.Is(err, ErrSchemaViolation))
	assert.Equal(t, KindEmptyExtraction, KindOf(err))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := TransientStore("tablestore.UpsertNode", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TransientStoreError")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(stderrors.New("boom")))
	assert.False(t, IsKind(nil, KindNotFound))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service unavailable", ServiceUnavailable("extract", nil), true},
		{"malformed", MalformedResponse("extract", "no json object", nil), true},
		{"schema violation", SchemaViolation("extract", "sentiment", "must be one of positive neutral negative"), true},
		{"empty extraction", EmptyExtraction("validate"), true},
		{"transient store", TransientStore("upsert", stderrors.New("timeout")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"duplicate id", DuplicateID("audit", "t-1"), false},
		{"constraint", ConstraintViolation("edge", "missing node"), false},
		{"canceled", context.Canceled, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
