package policy

import (
	"strings"

	"github.com/ent0n29/secondbrain/internal/thought"
)

// ClassifyPrivacy picks the storage privacy level for captured text. Text
// matching any redaction pattern is sensitive.
func ClassifyPrivacy(text string) thought.Privacy {
	if strings.TrimSpace(text) == "" {
		return thought.PrivacyPrivate
	}
	if _, hits := RedactPII(text); len(hits) > 0 {
		return thought.PrivacySensitive
	}
	return thought.PrivacyPrivate
}
