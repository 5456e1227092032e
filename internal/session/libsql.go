package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/cortex/pkg/schema"
)

const sessionsMigration = `
CREATE TABLE IF NOT EXISTS sessions (
    id                     TEXT PRIMARY KEY,
    history                TEXT NOT NULL DEFAULT '[]',
    awaiting_clarification INTEGER NOT NULL DEFAULT 0,
    pending_query          TEXT NOT NULL DEFAULT '',
    clarification_rounds   INTEGER NOT NULL DEFAULT 0,
    created_at             TIMESTAMP NOT NULL,
    last_access_at         TIMESTAMP NOT NULL,
    version                INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_access ON sessions(last_access_at);
`

// LibSQLStore implements Store on libSQL (embedded SQLite fork), for
// deployments where sessions must survive a process restart.
type LibSQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewLibSQLStore opens a libSQL database at the given path and prepares the
// sessions table. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string, ttl time.Duration) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if _, err := db.Exec(sessionsMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions table: %w", err)
	}
	return &LibSQLStore{db: db, ttl: ttl}, nil
}

func (s *LibSQLStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	now := time.Now().UTC()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil && !sess.Expired(s.ttl, now) {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET last_access_at = ? WHERE id = ?`, now, id); err != nil {
			return nil, storeError("touch session", err)
		}
		sess.LastAccessAt = now
		return sess, nil
	}

	// Unseen or expired: replace with a fresh session.
	fresh := &Session{ID: id, CreatedAt: now, LastAccessAt: now, Version: 1}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, history, awaiting_clarification, pending_query, clarification_rounds, created_at, last_access_at, version)
		 VALUES (?, '[]', 0, '', 0, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET
		   history='[]', awaiting_clarification=0, pending_query='', clarification_rounds=0,
		   created_at=excluded.created_at, last_access_at=excluded.last_access_at, version=1`,
		id, now, now); err != nil {
		return nil, storeError("create session", err)
	}
	return fresh, nil
}

func (s *LibSQLStore) Save(ctx context.Context, sess *Session) error {
	history, err := json.Marshal(sess.History)
	if err != nil {
		return storeError("marshal history", err)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET history = ?, awaiting_clarification = ?, pending_query = ?,
		     clarification_rounds = ?, last_access_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(history), boolToInt(sess.AwaitingClarification), sess.PendingQuery,
		sess.ClarificationRounds, now, sess.ID, sess.Version)
	if err != nil {
		return storeError("save session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("save session", err)
	}
	if affected == 0 {
		return conflictError(sess.ID)
	}
	sess.Version++
	sess.LastAccessAt = now
	return nil
}

func (s *LibSQLStore) EvictExpired(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_access_at < ?`, cutoff)
	if err != nil {
		return 0, storeError("evict sessions", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("evict sessions", err)
	}
	return int(affected), nil
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return storeError("delete session", err)
	}
	return nil
}

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) get(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	var history string
	var awaiting int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, history, awaiting_clarification, pending_query, clarification_rounds,
		        created_at, last_access_at, version
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &history, &awaiting, &sess.PendingQuery, &sess.ClarificationRounds,
		&sess.CreatedAt, &sess.LastAccessAt, &sess.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load session", err)
	}
	sess.AwaitingClarification = awaiting != 0
	if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
		return nil, storeError("unmarshal history", err)
	}
	return sess, nil
}

func storeError(op string, err error) *schema.CortexError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
