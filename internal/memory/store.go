// Package memory provides conversation storage across two tiers: a fast
// expiring cache that is authoritative during an active session, and a
// durable SQLite store that is authoritative across sessions.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/llm"
)

// DefaultTTL is the fast-tier expiry for conversation keys.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// ErrAgentMismatch is returned when a conversation is written under an
// agent other than the one that started it.
var ErrAgentMismatch = errors.New("conversation belongs to another agent")

// Conversation is a stored conversation with its messages.
type Conversation struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agentId"`
	UserID    string        `json:"userId,omitempty"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []llm.Message `json:"messages"`
}

// Summary is a conversation listing entry.
type Summary struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId"`
	UserID       string    `json:"userId,omitempty"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// FileContext records the last external file a conversation referenced
// so follow-up turns can resolve "that file".
type FileContext struct {
	FileID    string    `json:"file_id,omitempty"`
	FileName  string    `json:"file_name"`
	Path      string    `json:"path,omitempty"`
	URL       string    `json:"url,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Source    string    `json:"source,omitempty"`
	Company   string    `json:"company,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Durable is the durable tier.
type Durable interface {
	LoadConversation(ctx context.Context, id string) (*Conversation, error)
	ConversationAgent(ctx context.Context, id string) (string, error)
	SaveConversation(ctx context.Context, c *Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context, userID, agentID string, limit int) ([]Summary, error)
}

// Store coordinates the two tiers.
type Store struct {
	cache   Cache
	durable Durable
	ttl     time.Duration
	bus     *events.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // conversation id -> first failed durable write
}

// NewStore creates a dual-tier store. A zero ttl uses DefaultTTL; bus
// may be nil.
func NewStore(cache Cache, durable Durable, ttl time.Duration, bus *events.Bus, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:   cache,
		durable: durable,
		ttl:     ttl,
		bus:     bus,
		logger:  logger.With("component", "conversation_store"),
		pending: make(map[string]time.Time),
	}
}

func convKey(id string) string  { return "conv:" + id }
func metaKey(id string) string  { return "conv-meta:" + id }
func agentKey(id string) string { return "conv-agent:" + id }

// Load returns the conversation's messages. The cache is read first; on
// a miss the durable tier is read and the cache repopulated. An unknown
// id yields an empty history.
func (s *Store) Load(ctx context.Context, id string) ([]llm.Message, error) {
	data, err := s.cache.Get(ctx, convKey(id))
	switch {
	case err == nil:
		var msgs []llm.Message
		jerr := json.Unmarshal(data, &msgs)
		if jerr == nil {
			return msgs, nil
		}
		s.logger.Warn("discarding undecodable cache entry", "conversation_id", id, "error", jerr)
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("cache read failed, using durable tier", "conversation_id", id, "error", err)
	}

	conv, err := s.durable.LoadConversation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("durable load: %w", err)
	}

	if err := s.setMessages(ctx, id, conv.Messages); err != nil {
		s.logger.Warn("cache repopulation failed", "conversation_id", id, "error", err)
	}
	if err := s.cache.Set(ctx, agentKey(id), []byte(conv.AgentID), s.ttl); err != nil {
		s.logger.Warn("cache repopulation failed", "conversation_id", id, "error", err)
	}
	return conv.Messages, nil
}

// Owner returns the agent that started the conversation, or "" for an
// unknown id. Conversations not yet in the durable tier are answered
// from the cache.
func (s *Store) Owner(ctx context.Context, id string) (string, error) {
	data, err := s.cache.Get(ctx, agentKey(id))
	switch {
	case err == nil && len(data) > 0:
		return string(data), nil
	case err != nil && !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("cache read failed, using durable tier", "conversation_id", id, "error", err)
	}

	agentID, err := s.durable.ConversationAgent(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("durable load: %w", err)
	}
	if err := s.cache.Set(ctx, agentKey(id), []byte(agentID), s.ttl); err != nil {
		s.logger.Warn("cache repopulation failed", "conversation_id", id, "error", err)
	}
	return agentID, nil
}

// Save writes the conversation to the cache, refreshing its TTL, and
// then to the durable tier. A cache failure is returned and the durable
// tier is left untouched. A durable failure is logged, published, and
// recorded as pending, but not returned: the cache holds the session's
// authoritative state.
func (s *Store) Save(ctx context.Context, c *Conversation) error {
	if err := s.setMessages(ctx, c.ID, c.Messages); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	if c.AgentID != "" {
		if err := s.cache.Set(ctx, agentKey(c.ID), []byte(c.AgentID), s.ttl); err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
	}

	if err := s.durable.SaveConversation(ctx, c); err != nil {
		s.logger.Error("durable write failed; cache and durable tier diverge",
			"conversation_id", c.ID, "messages", len(c.Messages), "error", err)
		s.mu.Lock()
		if _, ok := s.pending[c.ID]; !ok {
			s.pending[c.ID] = time.Now()
		}
		s.mu.Unlock()
		s.bus.Publish(events.NewEvent(events.SourceStore, events.KindDurableWriteFailed, map[string]any{
			"conversation_id": c.ID,
			"error":           err.Error(),
		}))
		return nil
	}

	s.mu.Lock()
	delete(s.pending, c.ID)
	s.mu.Unlock()
	return nil
}

func (s *Store) setMessages(ctx context.Context, id string, msgs []llm.Message) error {
	if msgs == nil {
		msgs = []llm.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return s.cache.Set(ctx, convKey(id), data, s.ttl)
}

// Delete removes the conversation from both tiers.
func (s *Store) Delete(ctx context.Context, id string) error {
	cacheErr := s.cache.Delete(ctx, convKey(id), metaKey(id), agentKey(id))
	durableErr := s.durable.DeleteConversation(ctx, id)
	if err := errors.Join(cacheErr, durableErr); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	s.bus.Publish(events.NewEvent(events.SourceStore, events.KindConversationDeleted, map[string]any{
		"conversation_id": id,
	}))
	return nil
}

// Get returns the conversation metadata from the durable tier with the
// messages Load would return. A conversation known only to the cache
// is returned without metadata.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.durable.LoadConversation(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("durable load: %w", err)
	}

	if conv == nil {
		data, cerr := s.cache.Get(ctx, convKey(id))
		if cerr != nil {
			return nil, ErrNotFound
		}
		conv = &Conversation{ID: id}
		if err := json.Unmarshal(data, &conv.Messages); err != nil {
			return nil, ErrNotFound
		}
		return conv, nil
	}

	msgs, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// List returns conversation summaries from the durable tier.
func (s *Store) List(ctx context.Context, userID, agentID string, limit int) ([]Summary, error) {
	return s.durable.ListConversations(ctx, userID, agentID, limit)
}

// LoadFileContext returns the conversation's file context, or nil.
func (s *Store) LoadFileContext(ctx context.Context, id string) (*FileContext, error) {
	data, err := s.cache.Get(ctx, metaKey(id))
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fc FileContext
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode file context: %w", err)
	}
	return &fc, nil
}

// SaveFileContext overwrites the conversation's file context.
func (s *Store) SaveFileContext(ctx context.Context, id string, fc *FileContext) error {
	if fc.UpdatedAt.IsZero() {
		fc.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode file context: %w", err)
	}
	return s.cache.Set(ctx, metaKey(id), data, s.ttl)
}

// Pending returns ids whose latest durable write failed, oldest first.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.pending[ids[i]].Before(s.pending[ids[j]]) })
	return ids
}
