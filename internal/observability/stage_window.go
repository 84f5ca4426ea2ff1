package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Latency stages recorded around model calls and store writes.
const (
	StageReply          = "reply_generation"
	StageExtractLLM     = "extraction_llm"
	StageEmbed          = "embedding"
	StagePersistThought = "persist_thought"
	StageExtractTotal   = "extraction_total"
	StageRemember       = "remember_total"
	StageSearch         = "search"
)

// latencyBudgetsMS is the p95 each stage should stay under. Stages without
// a budget report zero.
var latencyBudgetsMS = map[string]float64{
	StageReply:          4000,
	StageExtractLLM:     20000,
	StageEmbed:          800,
	StagePersistThought: 150,
	StageExtractTotal:   30000,
	StageSearch:         1000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// Indicator counts how often an extraction outcome was seen since the last
// reset.
type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StageSnapshot is the body of GET /v1/perf/latency.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow holds the last N latencies of every stage plus outcome
// counters. It backs the perf endpoint and the perfchat tool; Prometheus
// keeps the long-running histograms.
type StageWindow struct {
	mu       sync.RWMutex
	size     int
	rings    map[string]*latencyRing
	outcomes map[string]int
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:     size,
		rings:    make(map[string]*latencyRing),
		outcomes: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &latencyRing{buf: make([]float64, 0, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

// Count bumps the named outcome counter.
func (w *StageWindow) Count(outcome string) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[outcome]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		if stats, ok := w.rings[stage].summarize(stage); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	for _, name := range sortedKeys(w.outcomes) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.outcomes[name]})
	}
	return snap
}

func (w *StageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[string]*latencyRing)
	w.outcomes = make(map[string]int)
}

// latencyRing grows to cap(buf) and then overwrites the oldest sample.
type latencyRing struct {
	buf  []float64
	head int
	last float64
}

func (r *latencyRing) add(ms float64) {
	r.last = ms
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, ms)
		return
	}
	r.buf[r.head] = ms
	r.head = (r.head + 1) % len(r.buf)
}

func (r *latencyRing) summarize(stage string) (StageStats, bool) {
	n := len(r.buf)
	if n == 0 {
		return StageStats{}, false
	}
	sorted := append([]float64(nil), r.buf...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     n,
		LastMS:      roundMS(r.last),
		AvgMS:       roundMS(sum / float64(n)),
		P50MS:       roundMS(percentile(sorted, 0.50)),
		P95MS:       roundMS(percentile(sorted, 0.95)),
		P99MS:       roundMS(percentile(sorted, 0.99)),
		TargetP95MS: latencyBudgetsMS[stage],
	}, true
}

// percentile interpolates linearly between the two nearest ranks of an
// ascending slice.
func percentile(sorted []float64, p float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*(rank-float64(lo))
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
