// Package metrics keeps in-process counters for the widget gateway. The
// snapshot is served on the gateway's /metrics route.
package metrics

import (
	"strings"
	"sync"
	"time"
)

type RouteMetrics struct {
	RequestsTotal      int64     `json:"requests_total"`
	FailureTotal       int64     `json:"failure_total"`
	UsageBlockedTotal  int64     `json:"usage_blocked_total"`
	TotalLatencyMillis int64     `json:"total_latency_millis"`
	LastFailureAt      time.Time `json:"last_failure_at,omitempty"`
}

type SessionMetrics struct {
	RegisteredTotal int64 `json:"registered_total"`
	RejectedTotal   int64 `json:"rejected_total"`
	EvictedTotal    int64 `json:"evicted_total"`
	UpstreamWatches int64 `json:"upstream_watches"`
}

type Snapshot struct {
	Routes      map[string]RouteMetrics `json:"routes"`
	Sessions    SessionMetrics          `json:"sessions"`
	GeneratedAt time.Time               `json:"generated_at"`
}

type registry struct {
	mu       sync.Mutex
	routes   map[string]*RouteMetrics
	sessions SessionMetrics
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{routes: make(map[string]*RouteMetrics)}
}

func ResetForTests() {
	globalRegistry = newRegistry()
}

// RecordRequest counts one request to route. Responses with status 400 or
// above count as failures, and 429 additionally as a usage-limit rejection.
func RecordRequest(route string, status int, latency time.Duration) {
	reg := globalRegistry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	metrics := reg.routeMetrics(route)
	metrics.RequestsTotal++
	if latency > 0 {
		metrics.TotalLatencyMillis += latency.Milliseconds()
	}
	if status >= 400 {
		metrics.FailureTotal++
		metrics.LastFailureAt = time.Now().UTC()
	}
	if status == 429 {
		metrics.UsageBlockedTotal++
	}
}

func RecordSessionRegistered() {
	updateSessions(func(s *SessionMetrics) { s.RegisteredTotal++ })
}

func RecordSessionRejected() {
	updateSessions(func(s *SessionMetrics) { s.RejectedTotal++ })
}

func RecordSessionsEvicted(n int) {
	if n <= 0 {
		return
	}
	updateSessions(func(s *SessionMetrics) { s.EvictedTotal += int64(n) })
}

func RecordUpstreamWatch() {
	updateSessions(func(s *SessionMetrics) { s.UpstreamWatches++ })
}

func SnapshotNow() Snapshot {
	reg := globalRegistry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	snapshot := Snapshot{
		Routes:      make(map[string]RouteMetrics, len(reg.routes)),
		Sessions:    reg.sessions,
		GeneratedAt: time.Now().UTC(),
	}
	for key, metrics := range reg.routes {
		snapshot.Routes[key] = *metrics
	}
	return snapshot
}

func updateSessions(fn func(*SessionMetrics)) {
	reg := globalRegistry
	reg.mu.Lock()
	defer reg.mu.Unlock()
	fn(&reg.sessions)
}

func (r *registry) routeMetrics(route string) *RouteMetrics {
	key := normalizeKey(route)
	if key == "" {
		key = "unknown"
	}
	metrics, ok := r.routes[key]
	if !ok {
		metrics = &RouteMetrics{}
		r.routes[key] = metrics
	}
	return metrics
}

func normalizeKey(raw string) string {
	return strings.TrimSpace(raw)
}
