package metrics

import (
	"sync"
	"time"
)

const (
	StageDecode     = "decode"
	StageDetect     = "detect"
	StagePreprocess = "preprocess"
	StageInference  = "inference"
	StageExplain    = "explain"
)

type StageLatency struct {
	// EWMA of the stage duration in milliseconds.
	EWMAms float64 `json:"ewma_ms"`

	// Counters (rolling since start).
	OK    uint64 `json:"ok"`
	Error uint64 `json:"error"`

	LastDuration time.Duration `json:"last_duration"`
	LastAt       time.Time     `json:"last_at"`
}

type LatencyTracker struct {
	mu     sync.RWMutex
	alpha  float64
	stages map[string]*StageLatency
}

// NewLatencyTracker creates a tracker with EWMA smoothing factor alpha.
// Typical alpha: 0.1..0.3 (higher reacts faster).
func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &LatencyTracker{
		alpha:  alpha,
		stages: map[string]*StageLatency{},
	}
}

func (t *LatencyTracker) ObserveOK(stage string, d time.Duration) {
	t.observe(stage, d, true)
}

func (t *LatencyTracker) ObserveError(stage string, d time.Duration) {
	t.observe(stage, d, false)
}

// Observe records d as OK when err is nil.
func (t *LatencyTracker) Observe(stage string, d time.Duration, err error) {
	t.observe(stage, d, err == nil)
}

func (t *LatencyTracker) observe(stage string, d time.Duration, ok bool) {
	if t == nil {
		return
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stages[stage]
	if s == nil {
		s = &StageLatency{}
		t.stages[stage] = s
	}

	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	if s.OK+s.Error == 0 {
		s.EWMAms = ms
	} else {
		s.EWMAms = (t.alpha * ms) + ((1.0 - t.alpha) * s.EWMAms)
	}

	s.LastDuration = d
	s.LastAt = now
	if ok {
		s.OK++
	} else {
		s.Error++
	}
}

func (t *LatencyTracker) Get(stage string) (StageLatency, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.stages[stage]
	if s == nil {
		return StageLatency{}, false
	}
	return *s, true
}

func (t *LatencyTracker) Snapshot() map[string]StageLatency {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]StageLatency, len(t.stages))
	for k, v := range t.stages {
		out[k] = *v
	}
	return out
}
