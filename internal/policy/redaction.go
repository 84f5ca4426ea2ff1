package policy

import (
	"regexp"

	"github.com/ent0n29/secondbrain/internal/thought"
)

type piiRule struct {
	name    string
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not taken for phone numbers.
var piiRules = []piiRule{
	{name: "email", pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), marker: "[REDACTED_EMAIL]"},
	{name: "card", pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), marker: "[REDACTED_CARD]"},
	{name: "phone", pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), marker: "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers. It returns the
// names of the rules that matched, in rule order.
func RedactPII(input string) (string, []string) {
	out := input
	var hits []string
	for _, r := range piiRules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		if next != out {
			hits = append(hits, r.name)
			out = next
		}
	}
	return out, hits
}

func redact(s string) string {
	out, _ := RedactPII(s)
	return out
}

func redactAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = redact(s)
	}
	return out
}

// RedactThought returns a copy of t safe to export: sensitive thoughts get
// every free-text field masked, other thoughts are returned unchanged.
func RedactThought(t thought.Thought) thought.Thought {
	if t.Privacy != thought.PrivacySensitive {
		return t
	}
	t.Claim = redact(t.Claim)
	t.Context = redact(t.Context)
	t.Evidence = redactAll(t.Evidence)
	t.Examples = redactAll(t.Examples)
	t.Actionables = redactAll(t.Actionables)
	return t
}

// RedactSource masks the raw text and summary of src.
func RedactSource(src thought.Source) thought.Source {
	src.Raw = redact(src.Raw)
	src.Summary = redact(src.Summary)
	return src
}
