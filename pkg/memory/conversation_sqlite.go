// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConversation implements Store on a SQLite database file in WAL mode.
type SQLiteConversation struct {
	db     *sql.DB
	path   string
	config ConversationConfig
}

// OpenSQLiteConversation opens (or creates) the database at path and ensures
// the schema exists. Parent directories are created as needed.
func OpenSQLiteConversation(ctx context.Context, path string, config ConversationConfig) (*SQLiteConversation, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s := &SQLiteConversation{db: db, path: path, config: config}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteConversation) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			session_id   TEXT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
			ON conversation_messages (session_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("ensure session schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteConversation) Path() string { return s.path }

// AppendMessage adds a message to the conversation.
func (s *SQLiteConversation) AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error {
	return s.AppendMessages(ctx, sessionID, []ConversationMessage{msg})
}

// AppendMessages adds messages in a single transaction.
func (s *SQLiteConversation) AppendMessages(ctx context.Context, sessionID string, msgs []ConversationMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range msgs {
		msg = prepareMessage(sessionID, msg)
		metadata := ""
		if len(msg.Metadata) > 0 {
			b, err := json.Marshal(msg.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(b)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (id, session_id, role, content, tool_call_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, sessionID, msg.Role, msg.Content, msg.ToolCallID, metadata, msg.CreatedAt.UnixNano())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetMessages retrieves all messages for a session.
func (s *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT id, session_id, role, content, tool_call_id, metadata, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return truncate(ctx, s.config, messages)
}

// GetRecentMessages retrieves the last N messages for a session.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, tool_call_id, metadata, created_at
		FROM (
			SELECT seq, id, session_id, role, content, tool_call_id, metadata, created_at
			FROM conversation_messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) sub
		ORDER BY seq ASC
	`, sessionID, limit)
}

// Count implements Store.
func (s *SQLiteConversation) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Clear removes all messages for a session.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	return err
}

// DeleteOldMessages removes messages older than the given duration.
func (s *SQLiteConversation) DeleteOldMessages(ctx context.Context, sessionID string, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE session_id = ? AND created_at < ?`, sessionID, cutoff)
	return err
}

// Close closes the database connection.
func (s *SQLiteConversation) Close() error {
	return s.db.Close()
}

func (s *SQLiteConversation) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var (
			msg      ConversationMessage
			metadata string
			created  int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ToolCallID, &metadata, &created); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				msg.Metadata = nil
			}
		}
		msg.CreatedAt = time.Unix(0, created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RemoveSQLiteFiles deletes the database file and its WAL and shared-memory
// companions. Missing files are not an error.
func RemoveSQLiteFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
