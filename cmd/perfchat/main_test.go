package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func TestWSURLForUser(t *testing.T) {
	got, err := wsURLForUser("https://brain.example/api/", "alice smith")
	if err != nil {
		t.Fatalf("wsURLForUser() error = %v", err)
	}
	want := "wss://brain.example/api/v1/chat/ws?user_id=alice+smith"
	if got != want {
		t.Fatalf("wsURLForUser() = %q, want %q", got, want)
	}

	if _, err := wsURLForUser("ftp://brain.example", "u"); err == nil {
		t.Fatalf("wsURLForUser(ftp) error = nil, want unsupported scheme")
	}
}

func TestSummarize(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 20; i++ {
		samples = append(samples, time.Duration(21-i)*time.Millisecond)
	}
	s := summarize(samples)
	if s.count != 20 {
		t.Fatalf("count = %d, want 20", s.count)
	}
	if s.p50 != 10*time.Millisecond {
		t.Fatalf("p50 = %s, want 10ms", s.p50)
	}
	if s.p95 != 19*time.Millisecond {
		t.Fatalf("p95 = %s, want 19ms", s.p95)
	}
	if s.max != 20*time.Millisecond {
		t.Fatalf("max = %s, want 20ms", s.max)
	}
	if got := summarize(nil); got.count != 0 {
		t.Fatalf("summarize(nil).count = %d, want 0", got.count)
	}
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("perfchat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := parseFlags(fs, []string{"-turns", "3", "-texts", " one | |two ", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.turns != 3 || len(cfg.texts) != 2 || cfg.texts[1] != "two" {
		t.Fatalf("parseFlags() = %+v", cfg)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want clamp to 1s", cfg.turnTimeout)
	}

	fs = flag.NewFlagSet("perfchat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseFlags(fs, []string{"-turns", "0"}); err == nil {
		t.Fatalf("parseFlags(turns=0) error = nil, want error")
	}
}
