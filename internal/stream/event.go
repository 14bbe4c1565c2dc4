package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nugget/grantdesk/internal/llm"
)

// EventType is the client-visible event kind.
type EventType string

const (
	EventConnected             EventType = "connected"
	EventTextDelta             EventType = "text_delta"
	EventReasoningDelta        EventType = "reasoning_delta"
	EventToolInvocationStarted EventType = "tool_invocation_started"
	EventToolResultReady       EventType = "tool_result_ready"
	EventUsage                 EventType = "usage"
	EventDone                  EventType = "done"
	EventError                 EventType = "error"
)

// Event is one record of the client stream, serialized as a single
// JSON line.
type Event struct {
	Type           EventType  `json:"type"`
	ConversationID string     `json:"conversationId,omitempty"`
	AgentID        string     `json:"agentId,omitempty"`
	Text           string     `json:"text,omitempty"`
	ToolID         string     `json:"toolId,omitempty"`
	ToolName       string     `json:"toolName,omitempty"`
	OK             *bool      `json:"ok,omitempty"`
	Output         string     `json:"output,omitempty"`
	Usage          *llm.Usage `json:"usage,omitempty"`
	Code           string     `json:"code,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// Sink receives client events. Emit blocks until the event is accepted
// or ctx ends.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// ChanSink delivers events over a bounded channel. A full channel
// applies backpressure to the producer; a cancelled context unblocks it.
type ChanSink struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Event, size), closed: make(chan struct{})}
}

// ErrSinkClosed is returned by Emit after Close.
var ErrSinkClosed = errors.New("stream: sink closed")

// Emit queues e for the consumer.
func (s *ChanSink) Emit(ctx context.Context, e Event) error {
	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrSinkClosed
	}
}

// Events returns the consumer side of the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. The producer must not Emit concurrently with
// Close; subsequent Emits return ErrSinkClosed.
func (s *ChanSink) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

// Collector is a Sink that records events in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (c *Collector) Emit(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Types returns the recorded event types in order.
func (c *Collector) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

// Encoder writes events as newline-delimited JSON.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes e followed by a newline.
func (e *Encoder) Encode(ev Event) error {
	return e.enc.Encode(ev)
}

// ReadEvents decodes a newline-delimited event stream, calling fn for
// each record until EOF or fn returns an error.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
