package main

import (
	"context"
	"testing"
	"time"
)

func TestRunCoalescesEachBurst(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	rep, err := run(context.Background(), options{
		rounds:       5,
		concurrency:  16,
		steadyOps:    20,
		refreshDelay: 10 * time.Millisecond,
		rotate:       true,
		prefix:       "gac-test",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.refreshes != 5 {
		t.Fatalf("expected one refresh per burst (5), got %d", rep.refreshes)
	}
	if rep.maxConcurrent != 1 {
		t.Fatalf("expected refreshes never to overlap, max=%d", rep.maxConcurrent)
	}
	if rep.steady.failures != 0 || rep.burst.failures != 0 {
		t.Fatalf("unexpected failures: steady=%d burst=%d", rep.steady.failures, rep.burst.failures)
	}
	if rep.burst.ops != 5*16 {
		t.Fatalf("expected 80 burst samples, got %d", rep.burst.ops)
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50=%v", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100=%v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty p50=%v", got)
	}
}
