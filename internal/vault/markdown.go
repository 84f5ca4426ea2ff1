package vault

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/secondbrain/internal/thought"
)

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slug lowercases text into a path-safe fragment of at most maxLen bytes.
func Slug(text string, maxLen int) string {
	s := strings.ToLower(text)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimSuffix(s, "-")
}

func shortID(id string) string {
	head, _, _ := strings.Cut(id, "-")
	return head
}

func datedPath(dir string, at time.Time, id, slug string) string {
	at = at.UTC()
	name := shortID(id)
	if slug != "" {
		name += "-" + slug
	}
	return fmt.Sprintf("%s/%04d/%02d/%s.md", dir, at.Year(), int(at.Month()), name)
}

// ThoughtPath is thoughts/YYYY/MM/<shortid>-<slug>.md.
func ThoughtPath(t thought.Thought) string {
	return datedPath("thoughts", t.CreatedAt, t.ID, Slug(t.Claim, 40))
}

// SourcePath is sources/YYYY/MM/<shortid>-<slug>.md, slugged from the title
// or the start of the raw text.
func SourcePath(src thought.Source) string {
	return datedPath("sources", src.CapturedAt, src.ID, Slug(sourceLabel(src), 40))
}

func sourceLabel(src thought.Source) string {
	if strings.TrimSpace(src.Title) != "" {
		return src.Title
	}
	raw := src.Raw
	if len(raw) > 100 {
		raw = raw[:100]
	}
	return raw
}

type thoughtFrontmatter struct {
	ID           string   `yaml:"id"`
	Kind         string   `yaml:"kind"`
	Domain       string   `yaml:"domain"`
	Privacy      string   `yaml:"privacy"`
	Stance       string   `yaml:"stance"`
	Confidence   float64  `yaml:"confidence"`
	Tags         []string `yaml:"tags"`
	CreatedAt    string   `yaml:"created_at"`
	Sources      []string `yaml:"sources,omitempty"`
	Supersedes   string   `yaml:"supersedes,omitempty"`
	SupersededBy string   `yaml:"superseded_by,omitempty"`
	Related      []string `yaml:"related,omitempty"`
}

type sourceFrontmatter struct {
	ID         string  `yaml:"id"`
	Type       string  `yaml:"type"`
	Title      *string `yaml:"title"`
	CapturedAt string  `yaml:"captured_at"`
	URL        *string `yaml:"url"`
}

func wikiLinks(dir string, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = wikiLink(dir, id)
	}
	return out
}

func wikiLink(dir, id string) string {
	if id == "" {
		return ""
	}
	return "[[" + dir + "/" + id + "]]"
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func writeFrontmatter(b *strings.Builder, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	b.WriteString("---\n")
	b.Write(out)
	b.WriteString("---\n\n")
	return nil
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("## " + heading + "\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}

// ThoughtMarkdown renders a thought as an Obsidian note.
func ThoughtMarkdown(t thought.Thought, sourceIDs []string) (string, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	fm := thoughtFrontmatter{
		ID:           t.ID,
		Kind:         string(t.Kind),
		Domain:       string(t.Domain),
		Privacy:      string(t.Privacy),
		Stance:       string(t.Stance),
		Confidence:   t.Confidence,
		Tags:         tags,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		Sources:      wikiLinks("sources", sourceIDs),
		Supersedes:   wikiLink("thoughts", t.SupersedesID),
		SupersededBy: wikiLink("thoughts", t.SupersededByID),
		Related:      wikiLinks("thoughts", t.RelatedIDs),
	}

	var b strings.Builder
	if err := writeFrontmatter(&b, fm); err != nil {
		return "", err
	}
	b.WriteString("## Claim\n" + t.Claim + "\n\n")
	if strings.TrimSpace(t.Context) != "" {
		b.WriteString("## Context\n" + t.Context + "\n\n")
	}
	writeList(&b, "Evidence", t.Evidence)
	writeList(&b, "Examples", t.Examples)
	writeList(&b, "Actionables", t.Actionables)
	return b.String(), nil
}

// SourceMarkdown renders a source document with back-links to its thoughts.
func SourceMarkdown(src thought.Source, thoughtIDs []string) (string, error) {
	fm := sourceFrontmatter{
		ID:         src.ID,
		Type:       string(src.Type),
		Title:      optional(src.Title),
		CapturedAt: src.CapturedAt.UTC().Format(time.RFC3339),
		URL:        optional(src.URL),
	}

	var b strings.Builder
	if err := writeFrontmatter(&b, fm); err != nil {
		return "", err
	}
	if len(thoughtIDs) > 0 {
		b.WriteString("## Extracted Thoughts\n")
		for _, id := range thoughtIDs {
			b.WriteString("- " + wikiLink("thoughts", id) + "\n")
		}
		b.WriteString("\n")
	}
	if strings.TrimSpace(src.Summary) != "" {
		b.WriteString("## Summary\n" + src.Summary + "\n\n")
	}
	b.WriteString("## Raw\n" + src.Raw + "\n")
	return b.String(), nil
}
