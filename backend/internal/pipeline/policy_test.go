package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/pkg/config"
)

func TestRetryPolicy_Delay(t *testing.T) {
	exp := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Backoff: BackoffExponential}
	constant := RetryPolicy{InitialDelay: 200 * time.Millisecond, Backoff: BackoffConstant}

	tests := []struct {
		name   string
		policy RetryPolicy
		n      int
		want   time.Duration
	}{
		{"no retry yet", exp, 0, 0},
		{"first exponential", exp, 1, time.Second},
		{"second exponential", exp, 2, 2 * time.Second},
		{"third exponential", exp, 3, 4 * time.Second},
		{"capped", exp, 4, 5 * time.Second},
		{"far past cap", exp, 40, 5 * time.Second},
		{"constant", constant, 3, 200 * time.Millisecond},
		{"no delay", RetryPolicy{}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.n))
		})
	}
}

func TestPolicies_For(t *testing.T) {
	p := DefaultPolicies()
	assert.Equal(t, 3, p.For(StepExtract).MaxAttempts)
	assert.Equal(t, 1, p.For(StepValidate).MaxAttempts)

	p[StepPersistAudit] = RetryPolicy{MaxAttempts: 0}
	assert.Equal(t, 1, p.For(StepPersistAudit).MaxAttempts)

	fallback := Policies{}.For(StepExtract)
	assert.Equal(t, 1, fallback.MaxAttempts)
	assert.Positive(t, fallback.Timeout)
}

func TestPoliciesFromFile(t *testing.T) {
	pf := &config.PolicyFile{Steps: map[string]config.StepPolicy{
		"extract":       {MaxAttempts: 5, Timeout: 90 * time.Second},
		"persist_nodes": {Backoff: "exponential"},
	}}

	p, err := PoliciesFromFile(pf)
	require.NoError(t, err)

	extract := p.For(StepExtract)
	assert.Equal(t, 5, extract.MaxAttempts)
	assert.Equal(t, 90*time.Second, extract.Timeout)
	assert.Equal(t, time.Second, extract.InitialDelay)
	assert.Equal(t, BackoffExponential, p.For(StepPersistNodes).Backoff)
	assert.Equal(t, DefaultPolicies()[StepPersistEdges], p[StepPersistEdges])

	_, err = PoliciesFromFile(&config.PolicyFile{Steps: map[string]config.StepPolicy{"init": {}}})
	assert.Error(t, err)

	p, err = PoliciesFromFile(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies(), p)
}
