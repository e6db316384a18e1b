package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "kgraph/backend/pkg/errors"
)

// mockCompleter returns canned responses in order
type mockCompleter struct {
	responses []string
	errs      []error
	calls     int
	lastUser  string
}

func (m *mockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	i := m.calls
	m.calls++
	m.lastUser = user
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func TestAdapter_Extract(t *testing.T) {
	mock := &mockCompleter{responses: []string{"```json\n" + rodeoJSON + "\n```"}}
	a := NewAdapter(mock, DefaultBreakerConfig())

	k, err := a.Extract(context.Background(), "I love horseback riding and went to a rodeo")
	require.NoError(t, err)

	assert.Equal(t, []string{"rodeo"}, k.MainTopics)
	assert.Equal(t, []string{"horseback riding"}, k.Subtopics)
	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, "I love horseback riding and went to a rodeo", mock.lastUser)
}

func TestAdapter_EmptyText(t *testing.T) {
	mock := &mockCompleter{responses: []string{rodeoJSON}}
	a := NewAdapter(mock, DefaultBreakerConfig())

	_, err := a.Extract(context.Background(), "   ")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindInvalidInput))
	assert.Zero(t, mock.calls)
}

func TestAdapter_ServiceFailure(t *testing.T) {
	mock := &mockCompleter{errs: []error{errors.New("connection refused")}, responses: []string{rodeoJSON}}
	a := NewAdapter(mock, DefaultBreakerConfig())

	_, err := a.Extract(context.Background(), "text")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindServiceUnavailable), "got %v", err)
	assert.True(t, kgerrors.IsRetryable(err))
}

func TestAdapter_MalformedIsNotCorrected(t *testing.T) {
	mock := &mockCompleter{responses: []string{"sorry, I cannot help"}}
	a := NewAdapter(mock, DefaultBreakerConfig())

	_, err := a.Extract(context.Background(), "text")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindMalformedResponse), "got %v", err)
	assert.Equal(t, 1, mock.calls)
}

func TestAdapter_BreakerOpens(t *testing.T) {
	failure := errors.New("upstream 502")
	mock := &mockCompleter{
		errs:      []error{failure, failure, failure},
		responses: []string{rodeoJSON},
	}
	a := NewAdapter(mock, BreakerConfig{MinRequests: 3, FailureRatio: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := a.Extract(context.Background(), "text")
		require.Error(t, err)
	}

	// open: the service is not called again
	_, err := a.Extract(context.Background(), "text")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindServiceUnavailable), "got %v", err)
	assert.Equal(t, 3, mock.calls)
}

func TestAdapter_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAdapter(CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "", ctx.Err()
	}), DefaultBreakerConfig())

	_, err := a.Extract(ctx, "text")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindCanceled), "got %v", err)
	assert.False(t, kgerrors.IsRetryable(err))
}
