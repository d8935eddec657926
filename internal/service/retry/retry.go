// Package retry computes backoff delays for a node's retry policy. The
// formulas are resolved exactly from the original retry_policy_model: three
// backoff shapes (EXPONENTIAL, LINEAR, FIXED), each available plain or with
// FULL_JITTER / EQUAL_JITTER randomization, all optionally capped by
// max_delay_ms.
package retry

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rakunlabs/statemanager/internal/service"
)

// ComputeDelay returns the backoff delay, in milliseconds, before retry
// attempt retryCount (1-indexed: the first retry is retryCount == 1).
// Returns an error if retryCount < 1.
func ComputeDelay(policy service.RetryPolicy, retryCount int) (int64, error) {
	if retryCount < 1 {
		return 0, fmt.Errorf("retry: retry_count must be >= 1, got %d", retryCount)
	}

	exponent := policy.ExponentBase
	if exponent == 0 {
		exponent = 2
	}

	var delay float64

	switch policy.Strategy {
	case service.RetryExponential:
		delay = exponentialBase(policy.BackoffFactor, exponent, retryCount)
	case service.RetryExponentialFullJitter:
		delay = fullJitter(exponentialBase(policy.BackoffFactor, exponent, retryCount))
	case service.RetryExponentialEqualJitter:
		delay = equalJitter(exponentialBase(policy.BackoffFactor, exponent, retryCount))

	case service.RetryLinear:
		delay = linearBase(policy.BackoffFactor, retryCount)
	case service.RetryLinearFullJitter:
		delay = fullJitter(linearBase(policy.BackoffFactor, retryCount))
	case service.RetryLinearEqualJitter:
		delay = equalJitter(linearBase(policy.BackoffFactor, retryCount))

	case service.RetryFixed:
		delay = fixedBase(policy.BackoffFactor)
	case service.RetryFixedFullJitter:
		delay = fullJitter(fixedBase(policy.BackoffFactor))
	case service.RetryFixedEqualJitter:
		delay = equalJitter(fixedBase(policy.BackoffFactor))

	default:
		return 0, fmt.Errorf("retry: unknown strategy %q", policy.Strategy)
	}

	return cap(delay, policy.MaxDelayMS), nil
}

func exponentialBase(backoffFactor, exponent float64, retryCount int) float64 {
	return backoffFactor * math.Pow(exponent, float64(retryCount-1))
}

func linearBase(backoffFactor float64, retryCount int) float64 {
	return backoffFactor * float64(retryCount)
}

func fixedBase(backoffFactor float64) float64 {
	return backoffFactor
}

// fullJitter returns a value uniformly drawn from [0, base).
func fullJitter(base float64) float64 {
	if base <= 0 {
		return 0
	}
	return rand.Float64() * base
}

// equalJitter returns base/2 plus a value uniformly drawn from [0, base/2).
func equalJitter(base float64) float64 {
	half := base / 2
	return half + rand.Float64()*half
}

func cap(delay float64, maxDelayMS *int64) int64 {
	rounded := int64(math.Round(delay))
	if maxDelayMS != nil && rounded > *maxDelayMS {
		return *maxDelayMS
	}
	return rounded
}
