package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/secondbrain/internal/thought"
)

var (
	ErrNoThoughts   = errors.New("no thoughts extracted")
	ErrMissingClaim = errors.New("missing claim")
	ErrInvalidKind  = errors.New("invalid thought kind")
)

// ParseError means the model output was not the expected JSON document.
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s result: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means the JSON parsed but a thought broke the contract.
// Index is -1 when the problem is not tied to one thought.
type ValidationError struct {
	Op    string
	Index int
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s result: %v", e.Op, e.Err)
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s result: thought %d %s %q: %v", e.Op, e.Index, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s result: thought %d %s: %v", e.Op, e.Index, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type rawThought struct {
	Kind        string   `json:"kind"`
	Domain      string   `json:"domain"`
	Claim       string   `json:"claim"`
	Stance      string   `json:"stance"`
	Confidence  *float64 `json:"confidence"`
	Context     string   `json:"context"`
	Evidence    []string `json:"evidence"`
	Examples    []string `json:"examples"`
	Actionables []string `json:"actionables"`
	Tags        []string `json:"tags"`
}

type rawExtraction struct {
	Thoughts []rawThought `json:"thoughts"`
}

// ParseExtraction decodes and validates a multi-thought extraction response.
func ParseExtraction(raw string) ([]thought.Extracted, error) {
	var doc rawExtraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &doc); err != nil {
		return nil, &ParseError{Op: "extraction", Raw: raw, Err: err}
	}
	if len(doc.Thoughts) == 0 {
		return nil, &ValidationError{Op: "extraction", Index: -1, Field: "thoughts", Err: ErrNoThoughts}
	}

	out := make([]thought.Extracted, 0, len(doc.Thoughts))
	for i, rt := range doc.Thoughts {
		kind := thought.Kind(normalizeEnum(rt.Kind))
		if !kind.Valid() {
			return nil, &ValidationError{Op: "extraction", Index: i, Field: "kind", Value: rt.Kind, Err: ErrInvalidKind}
		}
		ex, err := finish(rt, kind, thought.DomainMixed)
		if err != nil {
			return nil, &ValidationError{Op: "extraction", Index: i, Field: "claim", Err: err}
		}
		out = append(out, ex)
	}
	return out, nil
}

// ParseCategorization decodes and validates a single-note categorization.
// Only the note kinds are accepted.
func ParseCategorization(raw string) (thought.Extracted, error) {
	var rt rawThought
	if err := json.Unmarshal([]byte(stripFences(raw)), &rt); err != nil {
		return thought.Extracted{}, &ParseError{Op: "categorization", Raw: raw, Err: err}
	}
	kind := thought.Kind(normalizeEnum(rt.Kind))
	if !kind.ValidForNote() {
		return thought.Extracted{}, &ValidationError{Op: "categorization", Index: 0, Field: "kind", Value: rt.Kind, Err: ErrInvalidKind}
	}
	ex, err := finish(rt, kind, thought.DomainPersonal)
	if err != nil {
		return thought.Extracted{}, &ValidationError{Op: "categorization", Index: 0, Field: "claim", Err: err}
	}
	return ex, nil
}

func finish(rt rawThought, kind thought.Kind, defaultDomain thought.Domain) (thought.Extracted, error) {
	claim := strings.TrimSpace(rt.Claim)
	if claim == "" {
		return thought.Extracted{}, ErrMissingClaim
	}

	domain := thought.Domain(normalizeEnum(rt.Domain))
	if !domain.Valid() {
		domain = defaultDomain
	}
	stance := thought.Stance(normalizeEnum(rt.Stance))
	if !stance.Valid() {
		stance = thought.StanceBelieve
	}
	confidence := thought.DefaultConfidence
	if rt.Confidence != nil && *rt.Confidence != 0 {
		confidence = clamp01(*rt.Confidence)
	}

	return thought.Extracted{
		Kind:        kind,
		Domain:      domain,
		Claim:       claim,
		Stance:      stance,
		Confidence:  confidence,
		Context:     strings.TrimSpace(rt.Context),
		Evidence:    cleanList(rt.Evidence),
		Examples:    cleanList(rt.Examples),
		Actionables: cleanList(rt.Actionables),
		Tags:        cleanTags(rt.Tags),
	}, nil
}

// stripFences tolerates a model wrapping its JSON in a markdown code block.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeEnum(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
