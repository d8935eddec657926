package retry

import (
	"testing"

	"github.com/rakunlabs/statemanager/internal/service"
)

func TestComputeDelayRejectsNonPositiveRetryCount(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryFixed, BackoffFactor: 100}
	if _, err := ComputeDelay(policy, 0); err == nil {
		t.Fatal("expected error for retry_count 0")
	}
}

func TestComputeDelayFixed(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryFixed, BackoffFactor: 250}
	got, err := ComputeDelay(policy, 5)
	if err != nil {
		t.Fatalf("ComputeDelay: %v", err)
	}
	if got != 250 {
		t.Fatalf("ComputeDelay = %d, want 250", got)
	}
}

func TestComputeDelayLinear(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryLinear, BackoffFactor: 100}
	got, err := ComputeDelay(policy, 3)
	if err != nil {
		t.Fatalf("ComputeDelay: %v", err)
	}
	if got != 300 {
		t.Fatalf("ComputeDelay = %d, want 300", got)
	}
}

func TestComputeDelayExponential(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryExponential, BackoffFactor: 100, ExponentBase: 2}
	got, err := ComputeDelay(policy, 4)
	if err != nil {
		t.Fatalf("ComputeDelay: %v", err)
	}
	// 100 * 2^(4-1) = 800
	if got != 800 {
		t.Fatalf("ComputeDelay = %d, want 800", got)
	}
}

func TestComputeDelayMaxDelayClamp(t *testing.T) {
	maxDelay := int64(500)
	policy := service.RetryPolicy{Strategy: service.RetryExponential, BackoffFactor: 100, ExponentBase: 2, MaxDelayMS: &maxDelay}
	got, err := ComputeDelay(policy, 10)
	if err != nil {
		t.Fatalf("ComputeDelay: %v", err)
	}
	if got != maxDelay {
		t.Fatalf("ComputeDelay = %d, want clamp to %d", got, maxDelay)
	}
}

func TestComputeDelayFullJitterBounded(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryExponentialFullJitter, BackoffFactor: 100, ExponentBase: 2}
	for i := 0; i < 50; i++ {
		got, err := ComputeDelay(policy, 3)
		if err != nil {
			t.Fatalf("ComputeDelay: %v", err)
		}
		if got < 0 || got > 400 {
			t.Fatalf("full jitter delay %d out of bounds [0, 400]", got)
		}
	}
}

func TestComputeDelayEqualJitterBounded(t *testing.T) {
	policy := service.RetryPolicy{Strategy: service.RetryLinearEqualJitter, BackoffFactor: 100}
	for i := 0; i < 50; i++ {
		got, err := ComputeDelay(policy, 2)
		if err != nil {
			t.Fatalf("ComputeDelay: %v", err)
		}
		// base = 200, equal jitter in [100, 200]
		if got < 100 || got > 200 {
			t.Fatalf("equal jitter delay %d out of bounds [100, 200]", got)
		}
	}
}

func TestComputeDelayUnknownStrategy(t *testing.T) {
	policy := service.RetryPolicy{Strategy: "BOGUS"}
	if _, err := ComputeDelay(policy, 1); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
