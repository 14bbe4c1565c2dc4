package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/grantdesk/internal/llm"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore is the durable SQLite tier. Conversations and their ordered
// messages live in separate tables; deleting a conversation removes its
// messages.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the conversation database at dbPath.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewSQLStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB creates a durable store on an existing connection.
func NewSQLStoreWithDB(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		agent_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(user_id, agent_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(conversation_id, seq),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	`)
	return err
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// LoadConversation returns the conversation with its messages in order,
// or ErrNotFound.
func (s *SQLStore) LoadConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var userID sql.NullString
	var createdStr, updatedStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &userID, &c.AgentID, &c.Title, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	c.UserID = userID.String
	c.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	c.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	c.Messages = []llm.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m := llm.Message{Role: llm.Role(role)}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", len(c.Messages), err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return &c, nil
}

// ConversationAgent returns the agent that owns the conversation, or
// ErrNotFound.
func (s *SQLStore) ConversationAgent(ctx context.Context, id string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, `SELECT agent_id FROM conversations WHERE id = ?`, id).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load conversation agent: %w", err)
	}
	return agentID, nil
}

// SaveConversation writes the conversation metadata and its full
// message list in one transaction. Existing rows keep their ids and
// creation times; rows beyond the new message count are removed. An
// empty title never replaces a stored one. Saving under a different
// agent than the stored one fails with ErrAgentMismatch.
func (s *SQLStore) SaveConversation(ctx context.Context, c *Conversation) error {
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT agent_id FROM conversations WHERE id = ?`, c.ID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load conversation agent: %w", err)
	case owner != c.AgentID:
		return fmt.Errorf("save %s as %s: %w (owned by %s)", c.ID, c.AgentID, ErrAgentMismatch, owner)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, agent_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = COALESCE(conversations.user_id, excluded.user_id),
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			updated_at = excluded.updated_at
	`, c.ID, nullable(c.UserID), c.AgentID, c.Title,
		created.UTC().Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	for i, m := range c.Messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		msgID, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, seq) DO UPDATE SET
				role = excluded.role,
				content = excluded.content
		`, msgID.String(), c.ID, i, string(m.Role), string(content), now.Format(timeFormat))
		if err != nil {
			return fmt.Errorf("upsert message %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id = ? AND seq >= ?
	`, c.ID, len(c.Messages)); err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation and its messages.
// Deleting an unknown id is not an error.
func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// foreign_keys may be off on this connection.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// ListConversations returns conversation summaries, most recently
// updated first. Empty userID or agentID match any value.
func (s *SQLStore) ListConversations(ctx context.Context, userID, agentID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.agent_id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE (? = '' OR c.user_id = ?) AND (? = '' OR c.agent_id = ?)
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, userID, userID, agentID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var uid sql.NullString
		var createdStr, updatedStr string
		if err := rows.Scan(&sum.ID, &uid, &sum.AgentID, &sum.Title, &createdStr, &updatedStr, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.UserID = uid.String
		sum.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		sum.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
