package slo

import (
	"context"
	"sync"
	"time"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/pkg/metrics"
)

// objective is one "percentile over threshold for N windows in a row" rule.
type objective struct {
	name      string
	threshold float64
	windows   int
	pick      func(Summary) float64
}

type burnState struct {
	consecutive map[string]int
	firing      map[string]bool
}

// Alert describes an objective that just crossed its consecutive-window limit.
type Alert struct {
	Endpoint    string
	Percentile  string
	Value       float64
	Threshold   float64
	Consecutive int
}

// BurnDetector counts consecutive evaluation windows in which an endpoint misses an
// objective. The counter resets on the first healthy window.
type BurnDetector struct {
	objectives []objective
	logger     logger.Logger

	mu    sync.Mutex
	state map[string]*burnState
}

func NewBurnDetector(cfg config.SLOConfig, log logger.Logger) *BurnDetector {
	p95 := cfg.P95Threshold
	if p95 <= 0 {
		p95 = constants.DefaultP95Threshold
	}
	p95Windows := cfg.P95Windows
	if p95Windows <= 0 {
		p95Windows = constants.DefaultP95Windows
	}
	p99 := cfg.P99Threshold
	if p99 <= 0 {
		p99 = constants.DefaultP99Threshold
	}
	p99Windows := cfg.P99Windows
	if p99Windows <= 0 {
		p99Windows = constants.DefaultP99Windows
	}

	return &BurnDetector{
		objectives: []objective{
			{name: "p95", threshold: Millis(p95), windows: p95Windows, pick: func(s Summary) float64 { return s.P95 }},
			{name: "p99", threshold: Millis(p99), windows: p99Windows, pick: func(s Summary) float64 { return s.P99 }},
		},
		logger: log,
		state:  make(map[string]*burnState),
	}
}

// Observe feeds one evaluation window for endpoint and returns the alerts that fired on
// this window. An alert fires once when the limit is reached, not on every later window.
func (d *BurnDetector) Observe(endpoint string, s Summary) []Alert {
	if s.N == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[endpoint]
	if !ok {
		st = &burnState{consecutive: make(map[string]int), firing: make(map[string]bool)}
		d.state[endpoint] = st
	}

	var alerts []Alert
	for _, o := range d.objectives {
		value := o.pick(s)
		if value <= o.threshold {
			if st.firing[o.name] {
				metrics.SetSLOBurn(endpoint, o.name, false)
			}
			st.consecutive[o.name] = 0
			st.firing[o.name] = false
			continue
		}

		st.consecutive[o.name]++
		if st.consecutive[o.name] >= o.windows && !st.firing[o.name] {
			st.firing[o.name] = true
			alerts = append(alerts, Alert{
				Endpoint:    endpoint,
				Percentile:  o.name,
				Value:       value,
				Threshold:   o.threshold,
				Consecutive: st.consecutive[o.name],
			})
		}
	}
	return alerts
}

// Burning reports whether endpoint is currently over the limit for percentile.
func (d *BurnDetector) Burning(endpoint, percentile string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[endpoint]
	return ok && st.firing[percentile]
}

// Evaluate takes one window across every endpoint the recorder knows.
func (d *BurnDetector) Evaluate(ctx context.Context, rec *Recorder) []Alert {
	var fired []Alert
	for _, name := range rec.Endpoints() {
		sum, ok := rec.Summary(name)
		if !ok {
			continue
		}
		for _, a := range d.Observe(name, sum) {
			metrics.SetSLOBurn(a.Endpoint, a.Percentile, true)
			metrics.IncSLOBurn(a.Endpoint, a.Percentile)
			d.logger.WarnwCtx(ctx, "Latency objective burning",
				"endpoint", a.Endpoint,
				"percentile", a.Percentile,
				"value_ms", a.Value,
				"threshold_ms", a.Threshold,
				"consecutive_windows", a.Consecutive,
			)
			fired = append(fired, a)
		}
	}
	return fired
}

// Run evaluates every interval until ctx is done.
func (d *BurnDetector) Run(ctx context.Context, rec *Recorder, every time.Duration) {
	if every <= 0 {
		every = constants.DefaultSLOEvaluateEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Evaluate(ctx, rec)
		}
	}
}
