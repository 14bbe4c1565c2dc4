package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/nugget/grantdesk/internal/config"
	"github.com/nugget/grantdesk/internal/llm"
)

// Turn is the assistant output accumulated from one provider stream.
type Turn struct {
	Message    llm.Message
	Model      string
	StopReason string
	Usage      llm.Usage
}

// StreamError is an error event sent by the provider mid-stream.
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("provider stream error (%s): %s", e.Type, e.Message)
}

// ErrIncompleteStream means the provider body ended before message_stop.
var ErrIncompleteStream = errors.New("provider stream ended before message_stop")

// Adapter translates Anthropic Messages stream frames into client
// events.
type Adapter struct {
	// ForwardReasoning controls whether reasoning deltas are sent to
	// the client. Reasoning is always kept on the Turn.
	ForwardReasoning bool
	Logger           *slog.Logger
}

type wireEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	Message      *wireMessage  `json:"message,omitempty"`
	ContentBlock *wireBlock    `json:"content_block,omitempty"`
	Delta        *wireDelta    `json:"delta,omitempty"`
	Usage        *wireUsage    `json:"usage,omitempty"`
	Error        *wireErrorObj `json:"error,omitempty"`
}

type wireMessage struct {
	Model string    `json:"model"`
	Usage wireUsage `json:"usage"`
}

type wireBlock struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireErrorObj struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// blockState accumulates one content block by stream index.
type blockState struct {
	kind      llm.BlockType
	id        string
	name      string
	text      strings.Builder
	signature strings.Builder
	input     strings.Builder
}

// Consume reads the provider stream from body until message_stop,
// emitting text, reasoning, and tool-invocation events into sink. It
// returns the accumulated turn, or an error for transport failures,
// provider error events, a stream that ends early, or a sink that
// stops accepting events.
func (a *Adapter) Consume(ctx context.Context, body io.Reader, sink Sink) (*Turn, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dec := NewDecoder(body)
	turn := &Turn{}
	blocks := map[int]*blockState{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrIncompleteStream
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		logger.Log(ctx, config.LevelTrace, "stream frame", "event", frame.Event, "data", string(frame.Data))

		var ev wireEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", frame.Event, err)
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				turn.Model = ev.Message.Model
				turn.Usage.InputTokens = ev.Message.Usage.InputTokens
				turn.Usage.OutputTokens = ev.Message.Usage.OutputTokens
			}

		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			st := &blockState{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			switch ev.ContentBlock.Type {
			case "text":
				st.kind = llm.BlockText
				st.text.WriteString(ev.ContentBlock.Text)
			case "thinking", "redacted_thinking":
				st.kind = llm.BlockReasoning
				st.text.WriteString(ev.ContentBlock.Thinking)
				st.signature.WriteString(ev.ContentBlock.Signature)
			case "tool_use":
				st.kind = llm.BlockToolInvocation
				if err := sink.Emit(ctx, Event{
					Type:     EventToolInvocationStarted,
					ToolID:   st.id,
					ToolName: st.name,
				}); err != nil {
					return nil, err
				}
			default:
				logger.Debug("ignoring unknown content block", "type", ev.ContentBlock.Type)
				continue
			}
			blocks[ev.Index] = st

		case "content_block_delta":
			st := blocks[ev.Index]
			if st == nil || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				st.text.WriteString(ev.Delta.Text)
				if err := sink.Emit(ctx, Event{Type: EventTextDelta, Text: ev.Delta.Text}); err != nil {
					return nil, err
				}
			case "thinking_delta":
				st.text.WriteString(ev.Delta.Thinking)
				if a.ForwardReasoning {
					if err := sink.Emit(ctx, Event{Type: EventReasoningDelta, Text: ev.Delta.Thinking}); err != nil {
						return nil, err
					}
				}
			case "signature_delta":
				st.signature.WriteString(ev.Delta.Signature)
			case "input_json_delta":
				st.input.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			// Blocks are assembled at message_stop, in index order.

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				turn.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				turn.Usage.OutputTokens = ev.Usage.OutputTokens
				if ev.Usage.InputTokens > 0 {
					turn.Usage.InputTokens = ev.Usage.InputTokens
				}
			}

		case "message_stop":
			turn.Message = assemble(blocks)
			logger.Debug("stream complete",
				"model", turn.Model,
				"stop_reason", turn.StopReason,
				"input_tokens", turn.Usage.InputTokens,
				"output_tokens", turn.Usage.OutputTokens,
				"tool_calls", len(turn.Message.ToolInvocations()),
			)
			return turn, nil

		case "error":
			se := &StreamError{Type: "unknown", Message: "provider reported an error"}
			if ev.Error != nil {
				se.Type = ev.Error.Type
				se.Message = ev.Error.Message
			}
			return nil, se

		case "ping":
		}
	}
}

// assemble builds the assistant message from accumulated blocks in
// stream index order.
func assemble(blocks map[int]*blockState) llm.Message {
	idx := make([]int, 0, len(blocks))
	for i := range blocks {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, i := range idx {
		st := blocks[i]
		switch st.kind {
		case llm.BlockText:
			if st.text.Len() > 0 {
				msg.Content = append(msg.Content, llm.TextBlock(st.text.String()))
			}
		case llm.BlockReasoning:
			msg.Content = append(msg.Content, llm.ContentBlock{
				Type:      llm.BlockReasoning,
				Text:      st.text.String(),
				Signature: st.signature.String(),
			})
		case llm.BlockToolInvocation:
			msg.Content = append(msg.Content, llm.ToolInvocationBlock(st.id, st.name, toolInput(st.input.String())))
		}
	}
	return msg
}

// toolInput validates accumulated tool JSON. Malformed input is
// preserved under "_raw" so the tool executor can report it.
func toolInput(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	wrapped, _ := json.Marshal(map[string]string{"_raw": raw})
	return wrapped
}
