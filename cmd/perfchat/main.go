package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	extract        bool
	verbose        bool
}

type wsEnvelope struct {
	Type          string `json:"type"`
	Code          string `json:"code,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Stage         string `json:"stage,omitempty"`
	ThoughtsSaved int    `json:"thoughts_saved,omitempty"`
}

var defaultUtterances = []string{
	"I work best when I block the first two hours of the day for deep work.",
	"Meetings after 4pm drain me more than anything else.",
	"I decided to batch email into two windows a day.",
	"Writing a short plan the night before makes mornings easier.",
	"When I skip exercise my focus drops by the afternoon.",
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "secondbrain base URL")
	fs.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic conversation")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for each reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.extract, "extract", true, "trigger extraction after the last turn")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.userID) == "" {
		return options{}, fmt.Errorf("user-id is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	wsURL, err := wsURLForUser(cfg.baseURL, cfg.userID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	frames := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, frames, readErrCh)

	if cfg.verbose {
		fmt.Printf("perfchat: user=%s turns=%d\n", cfg.userID, cfg.turns)
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := conn.WriteJSON(protocol.UserText{Type: protocol.TypeUserText, Text: text, TSMs: start.UnixMilli()}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		frame, err := awaitFrame(frames, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if frame.Type == string(protocol.TypeErrorEvent) {
			return fmt.Errorf("turn %d: error_event code=%s detail=%s", i+1, frame.Code, frame.Detail)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d reply in %s\n", i+1, elapsed.Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if cfg.extract {
		start := time.Now()
		if err := conn.WriteJSON(protocol.Command{Type: protocol.TypeCommand, Action: protocol.ActionExtract}); err != nil {
			return fmt.Errorf("extract send: %w", err)
		}
		frame, err := awaitFrame(frames, readErrCh, 3*cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if frame.Type == string(protocol.TypeErrorEvent) {
			return fmt.Errorf("extract: code=%s stage=%s saved=%d detail=%s", frame.Code, frame.Stage, frame.ThoughtsSaved, frame.Detail)
		}
		fmt.Printf("perfchat: extraction saved %d thoughts in %s\n", frame.ThoughtsSaved, time.Since(start).Round(time.Millisecond))
	}

	s := summarize(latencies)
	fmt.Printf("perfchat: reply latency n=%d p50=%s p95=%s max=%s\n", s.count, s.p50, s.p95, s.max)

	snap, err := fetchStageSnapshot(ctx, &http.Client{Timeout: 10 * time.Second}, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch stage latency: %w", err)
	}
	for _, st := range snap.Stages {
		fmt.Printf("perfchat: stage %-24s n=%-4d p50=%.1fms p95=%.1fms\n", st.Stage, st.Samples, st.P50MS, st.P95MS)
	}
	return nil
}

func wsURLForUser(baseURL, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, frames chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		frames <- env
	}
}

func awaitFrame(frames <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-frames:
		return f, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
	}
}

type latencySummary struct {
	count int
	p50   time.Duration
	p95   time.Duration
	max   time.Duration
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return latencySummary{
		count: len(sorted),
		p50:   at(0.50),
		p95:   at(0.95),
		max:   sorted[len(sorted)-1],
	}
}

func fetchStageSnapshot(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return observability.StageSnapshot{}, errors.New(res.Status)
	}
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, err
	}
	return snap, nil
}
