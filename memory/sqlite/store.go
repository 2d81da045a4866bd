// Package sqlite provides a durable core.ConversationStore on SQLite, using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/hupe1980/meshchat/core"
)

//go:embed schema.sql
var schema string

// Interface compliance (compile-time assertion)
var _ core.ConversationStore = (*Store)(nil)

// Store persists sessions and messages in a single SQLite database.
// Timestamps are stored as Unix milliseconds.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const sessionColumns = `id, tenant_id, user_id, title, status, message_count, tags, summary, created_at, updated_at`

// CreateSessionIfAbsent inserts sess unless its id exists.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, sess *core.ConversationSession) (*core.ConversationSession, bool, error) {
	tags, err := encodeTags(sess.Tags)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions (`+sessionColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.TenantID, sess.UserID, sess.Title, string(sess.Status), sess.MessageCount,
		tags, sess.Summary, toMillis(sess.CreatedAt), toMillis(sess.UpdatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	stored, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}

	return stored, n == 1, nil
}

// GetSession loads a session or returns core.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*core.ConversationSession, error) {
	return getSession(ctx, s.db, id)
}

// UpdateSession overwrites title, status, tags, summary and updated_at.
func (s *Store) UpdateSession(ctx context.Context, sess *core.ConversationSession) error {
	return updateSession(ctx, s.db, sess)
}

// AppendMessages inserts msgs and updates the session in one transaction.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []core.ConversationMessage, mutate func(*core.ConversationSession)) (*core.ConversationSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	sess, err := getSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Status == core.SessionArchived {
		return nil, core.ErrSessionArchived
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, type, content, ts, intent, action, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, string(m.Type), m.Content, toMillis(m.Timestamp),
			m.Metadata.Intent, m.Metadata.Action, m.Metadata.AgentID,
		); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}

		sess.MessageCount++
		if m.Timestamp.After(sess.UpdatedAt) {
			sess.UpdatedAt = m.Timestamp
		}
	}

	if mutate != nil {
		mutate(sess)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET message_count = ? WHERE id = ?`, sess.MessageCount, sessionID); err != nil {
		return nil, fmt.Errorf("update message count: %w", err)
	}

	if err := updateSession(ctx, tx, sess); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return sess, nil
}

// ListSessions returns matching sessions ordered by updated_at descending.
func (s *Store) ListSessions(ctx context.Context, f core.SessionFilter) ([]*core.ConversationSession, error) {
	var (
		where []string
		args  []any
	)

	if !f.AllTenants {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, toMillis(f.UpdatedBefore))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, limitArg(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*core.ConversationSession, 0)

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}

	return out, rows.Err()
}

const messageColumns = `id, session_id, type, content, ts, intent, action, agent_id`

// ListMessages returns the last limit messages of a session in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]core.ConversationMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT `+messageColumns+` FROM (
		SELECT seq, `+messageColumns+` FROM messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	) ORDER BY seq ASC`, sessionID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessages matches content case-insensitively within the owner's
// sessions, newest first.
func (s *Store) SearchMessages(ctx context.Context, q core.MessageQuery) ([]core.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT m.id, m.session_id, m.type, m.content, m.ts, m.intent, m.action, m.agent_id
	FROM messages m
	JOIN sessions s ON s.id = m.session_id
	WHERE s.tenant_id = ? AND s.user_id = ?
	  AND instr(lower(m.content), lower(?)) > 0
	ORDER BY m.ts DESC, m.seq DESC
	LIMIT ?`, q.TenantID, q.UserID, q.Query, limitArg(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q execQuerier, id string) (*core.ConversationSession, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	return sess, err
}

func updateSession(ctx context.Context, q execQuerier, sess *core.ConversationSession) error {
	tags, err := encodeTags(sess.Tags)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `
	UPDATE sessions SET title = ?, status = ?, tags = ?, summary = ?, updated_at = ?
	WHERE id = ?`,
		sess.Title, string(sess.Status), tags, sess.Summary, toMillis(sess.UpdatedAt), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*core.ConversationSession, error) {
	var (
		sess               core.ConversationSession
		status, tags       string
		createdAt, updated int64
	)

	if err := sc.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &sess.Title, &status,
		&sess.MessageCount, &tags, &sess.Summary, &createdAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.Status = core.SessionStatus(status)
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updated)

	if err := json.Unmarshal([]byte(tags), &sess.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of session %s: %w", sess.ID, err)
	}
	if sess.Tags == nil {
		sess.Tags = []string{}
	}

	return &sess, nil
}

func scanMessages(rows *sql.Rows) ([]core.ConversationMessage, error) {
	out := make([]core.ConversationMessage, 0)

	for rows.Next() {
		var (
			m   core.ConversationMessage
			typ string
			ts  int64
		)

		if err := rows.Scan(&m.ID, &m.SessionID, &typ, &m.Content, &ts,
			&m.Metadata.Intent, &m.Metadata.Action, &m.Metadata.AgentID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		m.Type = core.MessageType(typ)
		m.Timestamp = fromMillis(ts)
		out = append(out, m)
	}

	return out, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}

	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}

	return string(b), nil
}

// limitArg maps "no limit" to SQLite's LIMIT -1.
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
