package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/reliability"
	"github.com/ent0n29/secondbrain/internal/thought"
)

const defaultGitHubAPI = "https://api.github.com"

var ErrInvalidRepo = errors.New("vault repo must be owner/name")

// Writer persists markdown copies of thoughts and sources.
type Writer interface {
	WriteThought(ctx context.Context, t thought.Thought, sourceIDs []string) (string, error)
	WriteSource(ctx context.Context, src thought.Source, thoughtIDs []string) (string, error)
}

// GitHubExporter commits vault notes through the GitHub contents API.
type GitHubExporter struct {
	client  *resty.Client
	owner   string
	repo    string
	retrier *reliability.Retrier
	log     zerolog.Logger
}

type GitHubOption func(*GitHubExporter)

// WithBaseURL points the exporter at a different API host.
func WithBaseURL(u string) GitHubOption {
	return func(g *GitHubExporter) { g.client.SetBaseURL(strings.TrimRight(u, "/")) }
}

func WithRetrier(r *reliability.Retrier) GitHubOption {
	return func(g *GitHubExporter) {
		if r != nil {
			g.retrier = r
		}
	}
}

func WithLogger(log zerolog.Logger) GitHubOption {
	return func(g *GitHubExporter) { g.log = log }
}

func NewGitHubExporter(token, repoSlug string, opts ...GitHubOption) (*GitHubExporter, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(repoSlug), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, ErrInvalidRepo
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("vault github token is required")
	}
	c := resty.New().
		SetBaseURL(defaultGitHubAPI).
		SetHeader("Authorization", "token "+token).
		SetHeader("Accept", "application/vnd.github.v3+json").
		SetHeader("User-Agent", "secondbrain-vault").
		SetTimeout(30 * time.Second)
	g := &GitHubExporter{
		client: c,
		owner:  owner,
		repo:   repo,
		retrier: reliability.NewRetrier(reliability.Policy{
			Attempts:  3,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  5 * time.Second,
			Retryable: reliability.IsRetryable,
		}),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Repo returns owner/name.
func (g *GitHubExporter) Repo() string { return g.owner + "/" + g.repo }

func (g *GitHubExporter) WriteThought(ctx context.Context, t thought.Thought, sourceIDs []string) (string, error) {
	content, err := ThoughtMarkdown(t, sourceIDs)
	if err != nil {
		return "", err
	}
	path := ThoughtPath(t)
	if err := g.commit(ctx, path, content, "Add thought: "+Slug(t.Claim, 50)); err != nil {
		return "", err
	}
	g.log.Debug().Str("path", path).Str("thought_id", t.ID).Msg("vault thought written")
	return path, nil
}

func (g *GitHubExporter) WriteSource(ctx context.Context, src thought.Source, thoughtIDs []string) (string, error) {
	content, err := SourceMarkdown(src, thoughtIDs)
	if err != nil {
		return "", err
	}
	title := src.Title
	if strings.TrimSpace(title) == "" {
		title = Slug(sourceLabel(src), 50)
	}
	path := SourcePath(src)
	if err := g.commit(ctx, path, content, "Add source: "+title); err != nil {
		return "", err
	}
	g.log.Debug().Str("path", path).Str("source_id", src.ID).Msg("vault source written")
	return path, nil
}

type contentsEntry struct {
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// commit creates or updates one file. An existing file's sha is required
// by the API for updates.
func (g *GitHubExporter) commit(ctx context.Context, path, content, message string) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", g.owner, g.repo, path)
	return g.retrier.Do(ctx, "vault commit", func(ctx context.Context) error {
		sha, err := g.existingSHA(ctx, endpoint)
		if err != nil {
			return err
		}
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(&putContentsRequest{
				Message: message,
				Content: base64.StdEncoding.EncodeToString([]byte(content)),
				SHA:     sha,
			}).
			Put(endpoint)
		if err != nil {
			return fmt.Errorf("github put contents: %w", err)
		}
		if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
			return &reliability.StatusError{Op: "github put contents", StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		return nil
	})
}

func (g *GitHubExporter) existingSHA(ctx context.Context, endpoint string) (string, error) {
	var entry contentsEntry
	resp, err := g.client.R().SetContext(ctx).SetResult(&entry).Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("github get contents: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		if entry.Type == "file" {
			return entry.SHA, nil
		}
		return "", nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", &reliability.StatusError{Op: "github get contents", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
}
