package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// PostgresStore persists thoughts in PostgreSQL with pgvector for
// similarity and tsvector for full-text ranking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string, dimensions int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		dimensions = 1536
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS thoughts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			domain TEXT NOT NULL,
			claim TEXT NOT NULL,
			stance TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			privacy TEXT NOT NULL DEFAULT 'private',
			context TEXT NOT NULL DEFAULT '',
			evidence TEXT[] NOT NULL DEFAULT '{}',
			examples TEXT[] NOT NULL DEFAULT '{}',
			actionables TEXT[] NOT NULL DEFAULT '{}',
			tags TEXT[] NOT NULL DEFAULT '{}',
			supersedes_id TEXT NULL,
			superseded_by_id TEXT NULL,
			related_ids TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d),
			search_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', claim || ' ' || context)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_thoughts_user_created ON thoughts (user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_thoughts_search_tsv ON thoughts USING GIN (search_tsv);`,
		`CREATE INDEX IF NOT EXISTS idx_thoughts_tags ON thoughts USING GIN (tags);`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			raw TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			captured_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sources_user_created ON sources (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS thought_sources (
			thought_id TEXT NOT NULL REFERENCES thoughts(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			quoted TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thought_sources_thought ON thought_sources (thought_id);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			raw_transcript TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_status ON conversations (user_id, status, updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const thoughtColumns = `t.id, t.user_id, t.kind, t.domain, t.claim, t.stance, t.confidence, t.privacy, t.context,
	t.evidence, t.examples, t.actionables, t.tags, t.supersedes_id, t.superseded_by_id, t.related_ids,
	t.embedding::text, t.created_at, t.updated_at`

func (s *PostgresStore) SaveThought(ctx context.Context, t thought.Thought) (thought.Thought, error) {
	t, err := prepareThought(t, time.Now().UTC())
	if err != nil {
		return thought.Thought{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO thoughts (id, user_id, kind, domain, claim, stance, confidence, privacy, context,
			evidence, examples, actionables, tags, supersedes_id, related_ids, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::vector, $17, $18)`,
		t.ID, t.UserID, string(t.Kind), string(t.Domain), t.Claim, string(t.Stance), t.Confidence, string(t.Privacy), t.Context,
		t.Evidence, t.Examples, t.Actionables, t.Tags, nullIfEmpty(t.SupersedesID), t.RelatedIDs,
		vectorLiteral(t.Embedding), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	if t.SupersedesID != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE thoughts SET superseded_by_id = $1, updated_at = $2 WHERE id = $3`,
			t.ID, t.UpdatedAt, t.SupersedesID,
		); err != nil {
			return thought.Thought{}, fmt.Errorf("link superseded thought: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetThought(ctx context.Context, id string) (thought.Thought, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+thoughtColumns+` FROM thoughts t WHERE t.id = $1`, id)
	t, err := scanThought(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return thought.Thought{}, ErrNotFound
	}
	if err != nil {
		return thought.Thought{}, fmt.Errorf("get thought: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SearchThoughts(ctx context.Context, q SearchQuery) ([]thought.Match, error) {
	q = q.withDefaults()
	rows, err := s.pool.Query(ctx,
		`SELECT `+thoughtColumns+`, 1 - (t.embedding <=> $1::vector) AS similarity
		 FROM thoughts t
		 WHERE t.embedding IS NOT NULL
		   AND ($3 = '' OR t.user_id = $3)
		   AND 1 - (t.embedding <=> $1::vector) >= $2
		 ORDER BY t.embedding <=> $1::vector
		 LIMIT $4`,
		vectorLiteral(q.Embedding), q.Threshold, q.UserID, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search thoughts: %w", err)
	}
	defer rows.Close()

	matches := make([]thought.Match, 0, q.Limit)
	for rows.Next() {
		var m thought.Match
		if m.Thought, err = scanThought(rows, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) HybridSearchThoughts(ctx context.Context, q HybridQuery) ([]thought.Match, error) {
	q = q.withDefaults()
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`WITH filtered AS (
			SELECT * FROM thoughts
			WHERE ($3 = '' OR user_id = $3)
			  AND (cardinality($4::text[]) = 0 OR tags && $4::text[])
			  AND ($5 = '' OR kind = $5)
		),
		vec AS (
			SELECT id, 1 - (embedding <=> $1::vector) AS similarity,
				row_number() OVER (ORDER BY embedding <=> $1::vector) AS rnk
			FROM filtered WHERE embedding IS NOT NULL
			ORDER BY embedding <=> $1::vector LIMIT $6
		),
		txt AS (
			SELECT id, ts_rank_cd(search_tsv, plainto_tsquery('english', $2)) AS text_rank,
				row_number() OVER (ORDER BY ts_rank_cd(search_tsv, plainto_tsquery('english', $2)) DESC) AS rnk
			FROM filtered WHERE search_tsv @@ plainto_tsquery('english', $2)
			ORDER BY text_rank DESC LIMIT $6
		)
		SELECT `+thoughtColumns+`,
			COALESCE(vec.similarity, 0)::float8,
			COALESCE(txt.text_rank, 0)::float8,
			(COALESCE(1.0 / ($7::float8 + vec.rnk), 0) + COALESCE(1.0 / ($7::float8 + txt.rnk), 0))::float8 AS hybrid_score
		FROM vec FULL OUTER JOIN txt ON vec.id = txt.id
		JOIN thoughts t ON t.id = COALESCE(vec.id, txt.id)
		ORDER BY hybrid_score DESC
		LIMIT $8`,
		vectorLiteral(q.Embedding), q.Text, q.UserID, tags, string(q.Kind), q.candidatePool(), float64(RRFK), q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search thoughts: %w", err)
	}
	defer rows.Close()

	matches := make([]thought.Match, 0, q.Limit)
	for rows.Next() {
		var m thought.Match
		if m.Thought, err = scanThought(rows, &m.Similarity, &m.TextRank, &m.HybridScore); err != nil {
			return nil, fmt.Errorf("scan hybrid row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hybrid rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) SaveSource(ctx context.Context, src thought.Source) (thought.Source, error) {
	src, err := prepareSource(src, time.Now().UTC())
	if err != nil {
		return thought.Source{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sources (id, user_id, type, title, url, raw, summary, metadata, captured_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		src.ID, src.UserID, string(src.Type), src.Title, src.URL, src.Raw, src.Summary, src.Metadata,
		src.CapturedAt, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return thought.Source{}, fmt.Errorf("save source: %w", err)
	}
	return src, nil
}

func (s *PostgresStore) LinkThoughtToSource(ctx context.Context, thoughtID, sourceID, quoted string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO thought_sources (thought_id, source_id, quoted) VALUES ($1, $2, $3)`,
		thoughtID, sourceID, quoted,
	)
	if err != nil {
		return fmt.Errorf("link thought to source: %w", err)
	}
	return nil
}

const sourceColumns = `s.id, s.user_id, s.type, s.title, s.url, s.raw, s.summary, s.metadata, s.captured_at, s.created_at, s.updated_at`

func (s *PostgresStore) ThoughtSources(ctx context.Context, thoughtID string) ([]thought.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (s.id) `+sourceColumns+`
		 FROM thought_sources ts JOIN sources s ON s.id = ts.source_id
		 WHERE ts.thought_id = $1
		 ORDER BY s.id`,
		thoughtID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thought sources: %w", err)
	}
	return collectSources(rows)
}

func (s *PostgresStore) SourcesByUser(ctx context.Context, userID string, sourceType thought.SourceType, limit int) ([]thought.Source, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources s
		 WHERE s.user_id = $1 AND ($2 = '' OR s.type = $2)
		 ORDER BY s.created_at DESC LIMIT $3`,
		userID, string(sourceType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	return collectSources(rows)
}

func collectSources(rows pgx.Rows) ([]thought.Source, error) {
	defer rows.Close()
	var out []thought.Source
	for rows.Next() {
		var src thought.Source
		var typ string
		if err := rows.Scan(&src.ID, &src.UserID, &typ, &src.Title, &src.URL, &src.Raw, &src.Summary,
			&src.Metadata, &src.CapturedAt, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.Type = thought.SourceType(typ)
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, rec conversation.Record) error {
	rec, err := prepareConversation(rec, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, started_at, raw_transcript, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET raw_transcript = EXCLUDED.raw_transcript,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.UserID, rec.StartedAt, rec.RawTranscript, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveConversation(ctx context.Context, userID string) (*conversation.Record, error) {
	var rec conversation.Record
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, started_at, raw_transcript, status, created_at, updated_at
		 FROM conversations WHERE user_id = $1 AND status = 'active'
		 ORDER BY updated_at DESC LIMIT 1`,
		userID,
	).Scan(&rec.ID, &rec.UserID, &rec.StartedAt, &rec.RawTranscript, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active conversation: %w", err)
	}
	rec.Status = conversation.RecordStatus(status)
	return &rec, nil
}

func (s *PostgresStore) SetConversationStatus(ctx context.Context, id string, status conversation.RecordStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set conversation status: invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("set conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set conversation status %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanThought(row pgx.Row, extra ...any) (thought.Thought, error) {
	var t thought.Thought
	var kind, domain, stance, privacy string
	var supersedes, supersededBy, embedding *string
	dest := []any{
		&t.ID, &t.UserID, &kind, &domain, &t.Claim, &stance, &t.Confidence, &privacy, &t.Context,
		&t.Evidence, &t.Examples, &t.Actionables, &t.Tags, &supersedes, &supersededBy, &t.RelatedIDs,
		&embedding, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return thought.Thought{}, err
	}
	t.Kind = thought.Kind(kind)
	t.Domain = thought.Domain(domain)
	t.Stance = thought.Stance(stance)
	t.Privacy = thought.Privacy(privacy)
	if supersedes != nil {
		t.SupersedesID = *supersedes
	}
	if supersededBy != nil {
		t.SupersededByID = *supersededBy
	}
	if embedding != nil {
		t.Embedding = parseVector(*embedding)
	}
	t.Normalize()
	return t, nil
}

// vectorLiteral renders a pgvector text literal, or nil for no embedding.
func vectorLiteral(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func parseVector(raw string) []float32 {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
