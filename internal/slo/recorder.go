package slo

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EndpointSnapshot is the read model served to dashboards.
type EndpointSnapshot struct {
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
	P999       float64 `json:"p999"`
	Count      int64   `json:"count"`
	Errors     int64   `json:"errors"`
	QueueDepth int     `json:"queueDepth"`
}

// HeatmapRow adds p75 to the endpoint snapshot.
type HeatmapRow struct {
	Endpoint string  `json:"endpoint"`
	P50      float64 `json:"p50"`
	P75      float64 `json:"p75"`
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
	P999     float64 `json:"p999"`
	Count    int64   `json:"count"`
	Errors   int64   `json:"errors"`
}

type endpointStats struct {
	window *Window
	count  atomic.Int64
	errors atomic.Int64
}

// Recorder keeps a bounded latency window and counters per named endpoint or operation.
type Recorder struct {
	mu         sync.RWMutex
	endpoints  map[string]*endpointStats
	windowSize int
	depth      atomic.Pointer[func() int]
}

func NewRecorder(windowSize int) *Recorder {
	return &Recorder{
		endpoints:  make(map[string]*endpointStats),
		windowSize: windowSize,
	}
}

// SetDepthFunc installs the queue depth source reported alongside every endpoint.
func (r *Recorder) SetDepthFunc(fn func() int) {
	r.depth.Store(&fn)
}

func (r *Recorder) Record(endpoint string, d time.Duration, failed bool) {
	s := r.stats(endpoint)
	s.window.AddDuration(d)
	s.count.Add(1)
	if failed {
		s.errors.Add(1)
	}
}

func (r *Recorder) stats(endpoint string) *endpointStats {
	r.mu.RLock()
	s, ok := r.endpoints[endpoint]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.endpoints[endpoint]; ok {
		return s
	}
	s = &endpointStats{window: NewWindow(r.windowSize)}
	r.endpoints[endpoint] = s
	return s
}

func (r *Recorder) queueDepth() int {
	fn := r.depth.Load()
	if fn == nil || *fn == nil {
		return 0
	}
	return (*fn)()
}

// Endpoints returns the recorded endpoint names in sorted order.
func (r *Recorder) Endpoints() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Recorder) Summary(endpoint string) (Summary, bool) {
	r.mu.RLock()
	s, ok := r.endpoints[endpoint]
	r.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return s.window.Summary(), true
}

func (r *Recorder) Snapshot() map[string]EndpointSnapshot {
	depth := r.queueDepth()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]EndpointSnapshot, len(r.endpoints))
	for name, s := range r.endpoints {
		sum := s.window.Summary()
		out[name] = EndpointSnapshot{
			P50:        sum.P50,
			P95:        sum.P95,
			P99:        sum.P99,
			P999:       sum.P999,
			Count:      s.count.Load(),
			Errors:     s.errors.Load(),
			QueueDepth: depth,
		}
	}
	return out
}

func (r *Recorder) Heatmap() []HeatmapRow {
	names := r.Endpoints()
	rows := make([]HeatmapRow, 0, len(names))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		s := r.endpoints[name]
		sum := s.window.Summary()
		rows = append(rows, HeatmapRow{
			Endpoint: name,
			P50:      sum.P50,
			P75:      sum.P75,
			P95:      sum.P95,
			P99:      sum.P99,
			P999:     sum.P999,
			Count:    s.count.Load(),
			Errors:   s.errors.Load(),
		})
	}
	return rows
}
