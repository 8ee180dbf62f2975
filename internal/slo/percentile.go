// Package slo records per-endpoint latency samples and raises a warning when an endpoint
// keeps missing its latency objective.
package slo

import (
	"math"
	"sort"
)

// rankEpsilon absorbs float error in p*n/100, so 99.9% of 1000 ranks 999 and not 1000.
const rankEpsilon = 1e-9

// Percentile returns the sample at index ceil(p/100*n)-1 of sorted. sorted must be in
// ascending order.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(n)/100-rankEpsilon)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Summary holds the percentiles of one sample set, in milliseconds.
type Summary struct {
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	P999 float64 `json:"p999"`
	N    int     `json:"-"`
}

// Summarize sorts a copy of samples and computes its percentiles.
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return Summary{
		P50:  Percentile(sorted, 50),
		P75:  Percentile(sorted, 75),
		P95:  Percentile(sorted, 95),
		P99:  Percentile(sorted, 99),
		P999: Percentile(sorted, 99.9),
		N:    len(sorted),
	}
}
