package goAuthClient

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one client counter or histogram.
type MetricID uint16

const (
	MetricRequestSuccess MetricID = iota
	MetricRequestClientError
	MetricRequestServerError
	MetricRequestNetworkError
	// MetricNetworkRetry counts GET attempts after the first.
	MetricNetworkRetry
	// MetricUnauthorized counts 401 responses seen before refresh.
	MetricUnauthorized
	MetricReplay
	MetricReplayUnauthorized
	MetricProactiveRefresh
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRejected
	MetricAuthExpired
	MetricLoginSuccess
	MetricLoginFailure
	MetricLogout
	MetricLogoutRemoteFailure
	MetricProfileUpdate
	MetricStorageFailure
	MetricRequestLatency
	MetricRefreshLatency
	metricIDCount
)

// latencyBounds are the histogram upper bounds, sized for HTTP round trips.
// Durations past the last bound land in the overflow bucket.
var latencyBounds = [...]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

const histBucketCount = len(latencyBounds) + 1

// latencyIDs are the only metrics that keep histograms, in slot order.
var latencyIDs = [...]MetricID{MetricRequestLatency, MetricRefreshLatency}

// counterSlot keeps each counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores every
// call, so callers never need to check.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]counterSlot
	hist    [len(latencyIDs)][histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a copy of all counters at one instant.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counts[id].n.Add(1)
}

// Observe records d in the histogram for id. Other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	slot := histSlot(id)
	if slot < 0 {
		return
	}
	m.hist[slot][bucketFor(d)].Add(1)
}

// Value reads one counter, even when metrics are disabled.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counts[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if histSlot(id) >= 0 {
			continue
		}
		s.Counters[id] = m.counts[id].n.Load()
	}
	if !m.latency {
		return s
	}
	for slot, id := range latencyIDs {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.hist[slot][i].Load()
		}
		s.Histograms[id] = buckets
	}
	return s
}

func histSlot(id MetricID) int {
	for i, l := range latencyIDs {
		if l == id {
			return i
		}
	}
	return -1
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
