package slo

import (
	"sync"
	"time"

	"intake/internal/constants"
)

// Window keeps the most recent samples in a fixed-size ring.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = constants.DefaultSampleWindow
	}
	return &Window{samples: make([]float64, size)}
}

func (w *Window) Add(v float64) {
	w.mu.Lock()
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

func (w *Window) AddDuration(d time.Duration) {
	w.Add(Millis(d))
}

// Samples returns a copy of the retained samples, oldest first.
func (w *Window) Samples() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.full {
		out := make([]float64, w.next)
		copy(out, w.samples[:w.next])
		return out
	}
	out := make([]float64, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	out = append(out, w.samples[:w.next]...)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func (w *Window) Summary() Summary {
	return Summarize(w.Samples())
}

func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
