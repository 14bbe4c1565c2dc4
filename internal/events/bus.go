// Package events provides a publish/subscribe bus for operational
// events. Components (agent loop, conversation store, tool executor,
// dependency watchers) publish; the WebSocket handler and the MQTT
// forwarder subscribe. The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	SourceAgent  = "agent"
	SourceStore  = "store"
	SourceTools  = "tools"
	SourceHealth = "health"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart: conversation_id, agent_id, complexity, model.
	KindTurnStart = "turn_start"
	// KindLLMCall: conversation_id, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse: conversation_id, iter, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolDone: conversation_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete: conversation_id, iterations, tokens_in, tokens_out, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed: conversation_id, code, error.
	KindTurnFailed = "turn_failed"

	// KindDurableWriteFailed marks a conversation whose cache write
	// succeeded but whose durable write did not. Data: conversation_id, error.
	KindDurableWriteFailed = "durable_write_failed"
	// KindConversationDeleted: conversation_id.
	KindConversationDeleted = "conversation_deleted"

	// KindServiceDown: service, error.
	KindServiceDown = "service_down"
	// KindServiceUp: service.
	KindServiceUp = "service_up"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(source, kind string, data map[string]any) Event {
	return Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data}
}

// Subscription is a registered receiver. Read events from C and call
// Close when done.
type Subscription struct {
	C <-chan Event

	ch  chan Event
	bus *Bus
}

// Close unregisters the subscription and closes C. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish sends e to every subscriber whose buffer has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a receiver with the given channel buffer.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	s := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
