package conversation

import (
	"regexp"
	"strings"
	"time"
)

const paragraphSeparator = "\n\n"

var paragraphPattern = regexp.MustCompile(`(?s)^(user|assistant): (.+)$`)

// FormatTranscript renders messages as "role: content" paragraphs.
func FormatTranscript(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, string(msg.Role)+": "+msg.Content)
	}
	return strings.Join(parts, paragraphSeparator)
}

// ParseTranscript is the inverse of FormatTranscript. Paragraphs that do not
// start with a known role are dropped. Parsed messages carry ts because the
// transcript does not record per-message times.
func ParseTranscript(raw string, ts time.Time) []Message {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var messages []Message
	for _, paragraph := range strings.Split(raw, paragraphSeparator) {
		match := paragraphPattern.FindStringSubmatch(paragraph)
		if match == nil {
			continue
		}
		messages = append(messages, Message{
			Role:      Role(match[1]),
			Content:   match[2],
			Timestamp: ts,
		})
	}
	return messages
}
