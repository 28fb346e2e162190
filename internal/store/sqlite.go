// Package store persists turns, session summaries and memory records in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/halcyonbot/halcyon/internal/schema"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	images TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, seq);
CREATE INDEX IF NOT EXISTS idx_turns_external ON turns(session_key, external_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_key TEXT PRIMARY KEY,
	summary TEXT NOT NULL DEFAULT '',
	turn_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	session_key TEXT NOT NULL DEFAULT '',
	guild_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'observation',
	significance REAL NOT NULL DEFAULT 0.5,
	created_at TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP,
	reinforcement INTEGER NOT NULL DEFAULT 0,
	deleted_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted_at);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh ULID string for row ids.
func NewID() string {
	return ulid.Make().String()
}

// --- turns ---

// AppendTurn inserts a turn row. The caller assigns Seq.
func (s *Store) AppendTurn(ctx context.Context, t schema.Turn) error {
	images, err := json.Marshal(t.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_key, seq, role, content, author, external_id, images, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionKey, t.Seq, t.Role, t.Content, t.AuthorName, t.ExternalID, string(images), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest limit turns for a session in chronological
// order.
func (s *Store) RecentTurns(ctx context.Context, sessionKey string, limit int) ([]schema.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, seq, role, content, author, external_id, images, created_at
		 FROM turns WHERE session_key = ? ORDER BY seq DESC LIMIT ?`,
		sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []schema.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// UpdateTurnContent rewrites the content of the turn matching externalID.
// Returns false when no such turn exists.
func (s *Store) UpdateTurnContent(ctx context.Context, sessionKey, externalID, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET content = ? WHERE session_key = ? AND external_id = ?`,
		content, sessionKey, externalID)
	if err != nil {
		return false, fmt.Errorf("update turn: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteTurn removes the turn matching externalID. Returns false when no
// such turn exists.
func (s *Store) DeleteTurn(ctx context.Context, sessionKey, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_key = ? AND external_id = ?`,
		sessionKey, externalID)
	if err != nil {
		return false, fmt.Errorf("delete turn: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearSession drops all turns and the summary row for a session.
func (s *Store) ClearSession(ctx context.Context, sessionKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

func scanTurn(rows *sql.Rows) (schema.Turn, error) {
	var t schema.Turn
	var images string
	if err := rows.Scan(&t.ID, &t.SessionKey, &t.Seq, &t.Role, &t.Content, &t.AuthorName, &t.ExternalID, &images, &t.CreatedAt); err != nil {
		return t, fmt.Errorf("scan turn: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &t.Images); err != nil {
		t.Images = nil
	}
	return t, nil
}

// --- session state ---

// SessionState returns the persisted summary and turn count. ok is false
// when the session has never been saved.
func (s *Store) SessionState(ctx context.Context, sessionKey string) (summary string, turnCount int, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT summary, turn_count FROM sessions WHERE session_key = ?`, sessionKey)
	err = row.Scan(&summary, &turnCount)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("query session state: %w", err)
	}
	return summary, turnCount, true, nil
}

// SaveSessionState upserts the summary and turn count for a session.
func (s *Store) SaveSessionState(ctx context.Context, sessionKey, summary string, turnCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, summary, turn_count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET summary = excluded.summary,
		 turn_count = excluded.turn_count, updated_at = excluded.updated_at`,
		sessionKey, summary, turnCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// --- memories ---

// InsertMemory stores a record. The caller fills every field including
// CreatedAt.
func (s *Store) InsertMemory(ctx context.Context, m schema.MemoryRecord) error {
	var lastAccessed any
	if !m.LastAccessedAt.IsZero() {
		lastAccessed = m.LastAccessedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, embedding, user_id, session_key, guild_id, category, tier, significance, created_at, last_accessed_at, reinforcement)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, encodeVector(m.Embedding),
		m.Scope.UserID, m.Scope.SessionKey, m.Scope.GuildID,
		m.Category, m.Tier, m.Significance, m.CreatedAt, lastAccessed, m.Reinforcement)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// RecentMemories returns up to limit live records created at or after
// since, newest first, visible to the given scope.
func (s *Store) RecentMemories(ctx context.Context, since time.Time, scope schema.Scope, limit int) ([]schema.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, user_id, session_key, guild_id, category, tier, significance, created_at, last_accessed_at, reinforcement
		 FROM memories
		 WHERE deleted_at IS NULL AND created_at >= ?
		   AND (user_id = '' OR ? = '' OR user_id = ?)
		   AND (session_key = '' OR ? = '' OR session_key = ?)
		   AND (guild_id = '' OR ? = '' OR guild_id = ?)
		 ORDER BY created_at DESC LIMIT ?`,
		since,
		scope.UserID, scope.UserID,
		scope.SessionKey, scope.SessionKey,
		scope.GuildID, scope.GuildID,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []schema.MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

// TouchMemory bumps reinforcement and the last-accessed timestamp.
func (s *Store) TouchMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET reinforcement = reinforcement + 1, last_accessed_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return nil
}

// SoftDeleteMemory marks a record deleted without removing the row.
func (s *Store) SoftDeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	return nil
}

// CountMemories returns the number of live records.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// CountMemoriesByTier returns live record counts keyed by tier.
func (s *Store) CountMemoriesByTier(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM memories WHERE deleted_at IS NULL GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count memories by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts[tier] = n
	}
	return counts, rows.Err()
}

// DeleteOldestMemories physically removes the n oldest rows, soft-deleted
// ones included. Returns the number removed.
func (s *Store) DeleteOldestMemories(ctx context.Context, n int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id IN (SELECT id FROM memories ORDER BY created_at ASC LIMIT ?)`, n)
	if err != nil {
		return 0, fmt.Errorf("prune oldest memories: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

// DeleteMemoriesBefore physically removes rows created before cutoff.
func (s *Store) DeleteMemoriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune memories by age: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

// PurgeDeleted physically removes soft-deleted rows older than cutoff.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted memories: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

func scanMemory(rows *sql.Rows) (schema.MemoryRecord, error) {
	var m schema.MemoryRecord
	var embedding []byte
	var lastAccessed sql.NullTime
	if err := rows.Scan(&m.ID, &m.Content, &embedding,
		&m.Scope.UserID, &m.Scope.SessionKey, &m.Scope.GuildID,
		&m.Category, &m.Tier, &m.Significance, &m.CreatedAt, &lastAccessed, &m.Reinforcement); err != nil {
		return m, fmt.Errorf("scan memory: %w", err)
	}
	m.Embedding = decodeVector(embedding)
	if lastAccessed.Valid {
		m.LastAccessedAt = lastAccessed.Time
	}
	return m, nil
}

// --- kv state ---

// GetState reads a value from the key/value table. ok is false when the
// key is absent.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a value in the key/value table.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}
