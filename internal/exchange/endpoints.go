package exchange

import (
	"sync"
	"time"
)

// EndpointMetric is the per-URL state the client uses to rank candidate
// endpoints.
type EndpointMetric struct {
	Path            string
	SuccessRate     float64 // 0-100
	LastSuccessTime time.Time
	AvgResponseTime time.Duration
	TotalCalls      int64
	Failures        int64
}

// endpointRegistry tracks candidate endpoint metrics per logical operation,
// mutex-protected process-wide state.
type endpointRegistry struct {
	mu        sync.Mutex
	metrics   map[string]*EndpointMetric // keyed by path
	operation map[string][]string        // operation -> ordered candidate paths
}

func newEndpointRegistry() *endpointRegistry {
	return &endpointRegistry{
		metrics:   make(map[string]*EndpointMetric),
		operation: make(map[string][]string),
	}
}

// register declares the ordered list of candidate paths for a logical
// operation, seeding metrics for any path not already known.
func (r *endpointRegistry) register(operation string, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.operation[operation] = append([]string(nil), paths...)
	for _, p := range paths {
		if _, ok := r.metrics[p]; !ok {
			r.metrics[p] = &EndpointMetric{Path: p, SuccessRate: 100}
		}
	}
}

// rank returns the operation's candidate paths ordered best-first: highest
// successRate, tie-broken by most recent lastSuccessTime.
func (r *endpointRegistry) rank(operation string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := append([]string(nil), r.operation[operation]...)
	metricsSnapshot := make(map[string]EndpointMetric, len(candidates))
	for _, p := range candidates {
		metricsSnapshot[p] = *r.metrics[p]
	}

	// Simple stable insertion sort; candidate lists are short (a handful
	// of fallback paths per operation).
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && better(metricsSnapshot[candidates[j]], metricsSnapshot[candidates[j-1]]) {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
	return candidates
}

func better(a, b EndpointMetric) bool {
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	return a.LastSuccessTime.After(b.LastSuccessTime)
}

// recordSuccess folds a successful call into the path's running success
// rate and response-time average.
func (r *endpointRegistry) recordSuccess(path string, measured time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.metrics[path]
	if m == nil {
		m = &EndpointMetric{Path: path, SuccessRate: 100}
		r.metrics[path] = m
	}
	m.TotalCalls++
	m.SuccessRate = ((m.SuccessRate * float64(m.TotalCalls-1)) + 100) / float64(m.TotalCalls)
	m.LastSuccessTime = time.Now()
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = measured
	} else {
		m.AvgResponseTime = (m.AvgResponseTime + measured) / 2
	}
}

// recordFailure folds a failed call into the path's running success rate.
func (r *endpointRegistry) recordFailure(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.metrics[path]
	if m == nil {
		m = &EndpointMetric{Path: path, SuccessRate: 100}
		r.metrics[path] = m
	}
	m.TotalCalls++
	m.Failures++
	m.SuccessRate = (m.SuccessRate * float64(m.TotalCalls-1)) / float64(m.TotalCalls)
}

// snapshot returns a copy of a path's metric, for tests and diagnostics.
func (r *endpointRegistry) snapshot(path string) EndpointMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[path]; ok {
		return *m
	}
	return EndpointMetric{Path: path}
}
