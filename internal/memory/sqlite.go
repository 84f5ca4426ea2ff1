package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// SQLiteStore is a single-file store for self-hosted installs. Similarity
// is computed in process over the user's thoughts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS thoughts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			domain TEXT NOT NULL,
			claim TEXT NOT NULL,
			stance TEXT NOT NULL,
			confidence REAL NOT NULL,
			privacy TEXT NOT NULL DEFAULT 'private',
			context TEXT NOT NULL DEFAULT '',
			evidence TEXT NOT NULL DEFAULT '[]',
			examples TEXT NOT NULL DEFAULT '[]',
			actionables TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			supersedes_id TEXT NOT NULL DEFAULT '',
			superseded_by_id TEXT NOT NULL DEFAULT '',
			related_ids TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			created_at_unix_ms INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thoughts_user ON thoughts (user_id, created_at_unix_ms);`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			raw TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			captured_at_unix_ms INTEGER NOT NULL,
			created_at_unix_ms INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sources_user ON sources (user_id, created_at_unix_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS thought_sources (
			thought_id TEXT NOT NULL REFERENCES thoughts(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			quoted TEXT NOT NULL DEFAULT '',
			created_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thought_sources_thought ON thought_sources (thought_id);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			started_at_unix_ms INTEGER NOT NULL,
			raw_transcript TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at_unix_ms INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_status ON conversations (user_id, status, updated_at_unix_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sqliteThoughtColumns = `id, user_id, kind, domain, claim, stance, confidence, privacy, context,
	evidence, examples, actionables, tags, supersedes_id, superseded_by_id, related_ids, embedding,
	created_at_unix_ms, updated_at_unix_ms`

func (s *SQLiteStore) SaveThought(ctx context.Context, t thought.Thought) (thought.Thought, error) {
	t, err := prepareThought(t, time.Now().UTC())
	if err != nil {
		return thought.Thought{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var embedding []byte
	if len(t.Embedding) > 0 {
		embedding = Float32ToBytes(t.Embedding)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO thoughts (`+sqliteThoughtColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Kind), string(t.Domain), t.Claim, string(t.Stance), t.Confidence, string(t.Privacy), t.Context,
		encodeList(t.Evidence), encodeList(t.Examples), encodeList(t.Actionables), encodeList(t.Tags),
		t.SupersedesID, encodeList(t.RelatedIDs), embedding,
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	if t.SupersedesID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE thoughts SET superseded_by_id = ?, updated_at_unix_ms = ? WHERE id = ?`,
			t.ID, t.UpdatedAt.UnixMilli(), t.SupersedesID,
		); err != nil {
			return thought.Thought{}, fmt.Errorf("link superseded thought: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetThought(ctx context.Context, id string) (thought.Thought, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteThoughtColumns+` FROM thoughts WHERE id = ?`, id)
	t, err := scanSQLiteThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		return thought.Thought{}, ErrNotFound
	}
	if err != nil {
		return thought.Thought{}, fmt.Errorf("get thought: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) candidates(ctx context.Context, userID string) ([]thought.Thought, error) {
	query := `SELECT ` + sqliteThoughtColumns + ` FROM thoughts`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at_unix_ms, rowid`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query thoughts: %w", err)
	}
	defer rows.Close()

	var out []thought.Thought
	for rows.Next() {
		t, err := scanSQLiteThought(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thought row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thought rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SearchThoughts(ctx context.Context, q SearchQuery) ([]thought.Match, error) {
	cands, err := s.candidates(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("search thoughts: %w", err)
	}
	return rankByVector(cands, q), nil
}

func (s *SQLiteStore) HybridSearchThoughts(ctx context.Context, q HybridQuery) ([]thought.Match, error) {
	cands, err := s.candidates(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("hybrid search thoughts: %w", err)
	}
	return rankHybrid(cands, q), nil
}

func (s *SQLiteStore) SaveSource(ctx context.Context, src thought.Source) (thought.Source, error) {
	src, err := prepareSource(src, time.Now().UTC())
	if err != nil {
		return thought.Source{}, err
	}
	meta, err := json.Marshal(src.Metadata)
	if err != nil {
		return thought.Source{}, fmt.Errorf("encode source metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, user_id, type, title, url, raw, summary, metadata, captured_at_unix_ms, created_at_unix_ms, updated_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.UserID, string(src.Type), src.Title, src.URL, src.Raw, src.Summary, string(meta),
		src.CapturedAt.UnixMilli(), src.CreatedAt.UnixMilli(), src.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return thought.Source{}, fmt.Errorf("save source: %w", err)
	}
	return src, nil
}

func (s *SQLiteStore) LinkThoughtToSource(ctx context.Context, thoughtID, sourceID, quoted string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thought_sources (thought_id, source_id, quoted, created_at_unix_ms) VALUES (?, ?, ?, ?)`,
		thoughtID, sourceID, quoted, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("link thought to source: %w", err)
	}
	return nil
}

const sqliteSourceColumns = `s.id, s.user_id, s.type, s.title, s.url, s.raw, s.summary, s.metadata,
	s.captured_at_unix_ms, s.created_at_unix_ms, s.updated_at_unix_ms`

func (s *SQLiteStore) ThoughtSources(ctx context.Context, thoughtID string) ([]thought.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSourceColumns+` FROM sources s
		 WHERE s.id IN (SELECT source_id FROM thought_sources WHERE thought_id = ?)
		 ORDER BY s.created_at_unix_ms`,
		thoughtID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thought sources: %w", err)
	}
	return collectSQLiteSources(rows)
}

func (s *SQLiteStore) SourcesByUser(ctx context.Context, userID string, sourceType thought.SourceType, limit int) ([]thought.Source, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSourceColumns+` FROM sources s
		 WHERE s.user_id = ? AND (? = '' OR s.type = ?)
		 ORDER BY s.created_at_unix_ms DESC LIMIT ?`,
		userID, string(sourceType), string(sourceType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	return collectSQLiteSources(rows)
}

func collectSQLiteSources(rows *sql.Rows) ([]thought.Source, error) {
	defer rows.Close()
	var out []thought.Source
	for rows.Next() {
		var src thought.Source
		var typ, meta string
		var captured, created, updated int64
		if err := rows.Scan(&src.ID, &src.UserID, &typ, &src.Title, &src.URL, &src.Raw, &src.Summary,
			&meta, &captured, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.Type = thought.SourceType(typ)
		src.Metadata = map[string]any{}
		_ = json.Unmarshal([]byte(meta), &src.Metadata)
		src.CapturedAt = fromUnixMs(captured)
		src.CreatedAt = fromUnixMs(created)
		src.UpdatedAt = fromUnixMs(updated)
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, rec conversation.Record) error {
	rec, err := prepareConversation(rec, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, started_at_unix_ms, raw_transcript, status, created_at_unix_ms, updated_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET raw_transcript = excluded.raw_transcript,
			status = excluded.status, updated_at_unix_ms = excluded.updated_at_unix_ms`,
		rec.ID, rec.UserID, rec.StartedAt.UnixMilli(), rec.RawTranscript, string(rec.Status),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveConversation(ctx context.Context, userID string) (*conversation.Record, error) {
	var rec conversation.Record
	var status string
	var started, created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at_unix_ms, raw_transcript, status, created_at_unix_ms, updated_at_unix_ms
		 FROM conversations WHERE user_id = ? AND status = 'active'
		 ORDER BY updated_at_unix_ms DESC LIMIT 1`,
		userID,
	).Scan(&rec.ID, &rec.UserID, &started, &rec.RawTranscript, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active conversation: %w", err)
	}
	rec.Status = conversation.RecordStatus(status)
	rec.StartedAt = fromUnixMs(started)
	rec.CreatedAt = fromUnixMs(created)
	rec.UpdatedAt = fromUnixMs(updated)
	return &rec, nil
}

func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id string, status conversation.RecordStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set conversation status: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at_unix_ms = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("set conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set conversation status %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteThought(row rowScanner) (thought.Thought, error) {
	var t thought.Thought
	var kind, domain, stance, privacy string
	var evidence, examples, actionables, tags, related string
	var embedding []byte
	var created, updated int64
	if err := row.Scan(&t.ID, &t.UserID, &kind, &domain, &t.Claim, &stance, &t.Confidence, &privacy, &t.Context,
		&evidence, &examples, &actionables, &tags, &t.SupersedesID, &t.SupersededByID, &related, &embedding,
		&created, &updated); err != nil {
		return thought.Thought{}, err
	}
	t.Kind = thought.Kind(kind)
	t.Domain = thought.Domain(domain)
	t.Stance = thought.Stance(stance)
	t.Privacy = thought.Privacy(privacy)
	t.Evidence = decodeList(evidence)
	t.Examples = decodeList(examples)
	t.Actionables = decodeList(actionables)
	t.Tags = decodeList(tags)
	t.RelatedIDs = decodeList(related)
	if len(embedding) > 0 {
		t.Embedding = BytesToFloat32(embedding)
	}
	t.CreatedAt = fromUnixMs(created)
	t.UpdatedAt = fromUnixMs(updated)
	t.Normalize()
	return t, nil
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func fromUnixMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
