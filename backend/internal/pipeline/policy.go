package pipeline

import (
	"fmt"
	"time"

	"kgraph/backend/pkg/config"
)

// Backoff is how the delay between attempts grows
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy governs one step. Timeout bounds each attempt separately.
type RetryPolicy struct {
	MaxAttempts  int           `json:"maxAttempts"`
	InitialDelay time.Duration `json:"initialDelay"`
	MaxDelay     time.Duration `json:"maxDelay"`
	Backoff      Backoff       `json:"backoff"`
	Timeout      time.Duration `json:"timeout"`
}

// Delay returns the wait before retry number n (1 = first retry)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.InitialDelay <= 0 {
		return 0
	}
	d := p.InitialDelay
	if p.Backoff == BackoffExponential {
		for i := 1; i < n; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Policies maps each step to its retry policy
type Policies map[Step]RetryPolicy

// DefaultPolicies gives the extraction call a long timeout and a few
// exponential retries, and the store steps quicker constant retries.
func DefaultPolicies() Policies {
	store := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Backoff:      BackoffConstant,
		Timeout:      30 * time.Second,
	}
	return Policies{
		StepExtract: {
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Backoff:      BackoffExponential,
			Timeout:      60 * time.Second,
		},
		StepValidate: {
			MaxAttempts: 1,
			Backoff:     BackoffConstant,
			Timeout:     5 * time.Second,
		},
		StepPersistNodes:    store,
		StepPersistEdges:    store,
		StepPersistAudit:    store,
		StepComputeInsights: store,
	}
}

// For returns the policy of step, falling back to a single attempt
func (p Policies) For(step Step) RetryPolicy {
	if policy, ok := p[step]; ok {
		if policy.MaxAttempts < 1 {
			policy.MaxAttempts = 1
		}
		return policy
	}
	return RetryPolicy{MaxAttempts: 1, Backoff: BackoffConstant, Timeout: 30 * time.Second}
}

// PoliciesFromFile overlays the steps named in pf onto the defaults. Zero
// fields in the file keep the default value.
func PoliciesFromFile(pf *config.PolicyFile) (Policies, error) {
	policies := DefaultPolicies()
	if pf == nil {
		return policies, nil
	}

	for name, override := range pf.Steps {
		step := Step(name)
		if !step.Valid() {
			return nil, fmt.Errorf("policy file: unknown step %q", name)
		}
		p := policies[step]
		if override.MaxAttempts > 0 {
			p.MaxAttempts = override.MaxAttempts
		}
		if override.InitialDelay > 0 {
			p.InitialDelay = override.InitialDelay
		}
		if override.MaxDelay > 0 {
			p.MaxDelay = override.MaxDelay
		}
		if override.Backoff != "" {
			p.Backoff = Backoff(override.Backoff)
		}
		if override.Timeout > 0 {
			p.Timeout = override.Timeout
		}
		policies[step] = p
	}
	return policies, nil
}
