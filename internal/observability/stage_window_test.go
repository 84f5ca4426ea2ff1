package observability

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageEmbed, 500)
	w.Observe(StageEmbed, 700)
	w.Observe(StageEmbed, 900)
	w.Count("extraction_failed_partial")
	w.Count("extraction_failed_partial")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 800 {
		t.Fatalf("TargetP95MS = %.2f, want 800", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAndResets(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe(StageSearch, 10)
	w.Observe(StageSearch, 20)
	w.Observe(StageSearch, 30)

	snap := w.Snapshot()
	if got := snap.Stages[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Stages[0].AvgMS; got != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", got)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestMetricsHandlerExposesNamespace(t *testing.T) {
	m := NewMetrics("sb_test")
	m.ConversationEvent("started")
	m.ObserveStage(StageReply, 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "sb_test_conversation_events_total") {
		t.Fatalf("metrics output missing conversation counter")
	}
	if got := m.StageSnapshot().Stages[0].Stage; got != StageReply {
		t.Fatalf("Stage = %q, want %q", got, StageReply)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConversationEvent("started")
	m.ObserveStage(StageEmbed, time.Millisecond)
	m.ExtractionFailed("embedding", "partial")
	if got := len(m.StageSnapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}

func TestLoggerWritesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "secondbrain", "warn")
	log.Info().Msg("dropped")
	log.Warn().Str("user_id", "u1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1", len(lines))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("invalid json log: %v", err)
	}
	if payload["service"] != "secondbrain" || payload["level"] != "warn" || payload["user_id"] != "u1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
