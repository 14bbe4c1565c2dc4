// Package facts provides agent-scoped long-term notes that survive
// across conversations.
package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups related facts.
type Category string

const (
	CategoryCompany    Category = "company"    // Facts about a client company
	CategoryProgram    Category = "program"    // Funding program rules and deadlines
	CategoryPreference Category = "preference" // How the user likes things
	CategoryGeneral    Category = "general"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCompany, CategoryProgram, CategoryPreference, CategoryGeneral:
		return true
	}
	return false
}

// ErrNotFound is returned when a fact does not exist.
var ErrNotFound = errors.New("fact not found")

// Fact is one remembered note.
type Fact struct {
	ID        uuid.UUID `json:"id"`
	Agent     string    `json:"agent"`
	Category  Category  `json:"category"`
	Key       string    `json:"key"`   // Unique within agent and category
	Value     string    `json:"value"` // The actual information
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages fact persistence. Every operation is scoped to one
// agent; agents never see each other's notes.
type Store struct {
	db *sql.DB
}

// NewStore creates a fact store using an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			category TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(agent, category, key)
		);

		CREATE INDEX IF NOT EXISTS idx_facts_agent ON facts(agent, category);
	`)
	return err
}

// Set creates or updates a fact.
func (s *Store) Set(ctx context.Context, agent string, category Category, key, value, source string) (*Fact, error) {
	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, agent, category, key, value, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent, category, key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, id.String(), agent, category, key, value, source,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}

	return s.Get(ctx, agent, category, key)
}

// Get retrieves a fact by category and key.
func (s *Store) Get(ctx context.Context, agent string, category Category, key string) (*Fact, error) {
	f, err := scanFact(s.db.QueryRowContext(ctx, `
		SELECT id, agent, category, key, value, source, created_at, updated_at
		FROM facts WHERE agent = ? AND category = ? AND key = ?
	`, agent, category, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// List returns the agent's facts, optionally limited to one category.
func (s *Store) List(ctx context.Context, agent string, category Category) ([]*Fact, error) {
	query := `
		SELECT id, agent, category, key, value, source, created_at, updated_at
		FROM facts WHERE agent = ?`
	args := []any{agent}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, key`
	return s.query(ctx, query, args...)
}

// Search finds the agent's facts containing query in key or value.
func (s *Store) Search(ctx context.Context, agent, query string) ([]*Fact, error) {
	pattern := "%" + query + "%"
	return s.query(ctx, `
		SELECT id, agent, category, key, value, source, created_at, updated_at
		FROM facts
		WHERE agent = ? AND (key LIKE ? OR value LIKE ?)
		ORDER BY updated_at DESC
		LIMIT 50
	`, agent, pattern, pattern)
}

// Delete removes a fact.
func (s *Store) Delete(ctx context.Context, agent string, category Category, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE agent = ? AND category = ? AND key = ?`, agent, category, key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (*Fact, error) {
	var f Fact
	var idStr, catStr, createdStr, updatedStr string
	var source sql.NullString

	if err := row.Scan(&idStr, &f.Agent, &catStr, &f.Key, &f.Value, &source, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	f.ID, _ = uuid.Parse(idStr)
	f.Category = Category(catStr)
	f.Source = source.String
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)

	return &f, nil
}
