// Package agent implements the core agent loop: one user message in,
// a streamed and persisted assistant answer out, with tool calls in
// between.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/config"
	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/llm"
	"github.com/nugget/grantdesk/internal/memory"
	"github.com/nugget/grantdesk/internal/prompts"
	"github.com/nugget/grantdesk/internal/router"
	"github.com/nugget/grantdesk/internal/stream"
	"github.com/nugget/grantdesk/internal/tools"
	"github.com/nugget/grantdesk/internal/usage"
)

// DefaultMaxTokens is the per-call output limit when none is configured.
const DefaultMaxTokens = llm.DefaultMaxTokens

// errorEmitTimeout bounds delivery of the final error event after the
// turn's context has ended.
const errorEmitTimeout = time.Second

// ErrEmptyMessage is returned for a request with no text and no
// attachments.
var ErrEmptyMessage = errors.New("message is empty")

// Attachment describes a file the user attached to a message. The file
// itself lives in the document store or behind URL.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Request is one user turn.
type Request struct {
	AgentID        agents.ID
	ConversationID string // empty starts a new conversation
	UserID         string
	Message        string
	Attachments    []Attachment
}

// Result describes a completed turn.
type Result struct {
	ConversationID string      `json:"conversationId"`
	RequestID      string      `json:"requestId"`
	Title          string      `json:"title,omitempty"`
	Message        llm.Message `json:"message"`
	Model          string      `json:"model"`
	Iterations     int         `json:"iterations"`
	Usage          llm.Usage   `json:"usage"`
}

// Conversations is the conversation state the loop reads and writes.
type Conversations interface {
	Owner(ctx context.Context, id string) (string, error)
	Load(ctx context.Context, id string) ([]llm.Message, error)
	Save(ctx context.Context, c *memory.Conversation) error
	LoadFileContext(ctx context.Context, id string) (*memory.FileContext, error)
	SaveFileContext(ctx context.Context, id string, fc *memory.FileContext) error
}

// UsageRecorder receives one record per provider call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config holds the loop's collaborators. Usage, Titler, and Bus are
// optional.
type Config struct {
	Provider llm.Provider
	Router   *router.Router
	Tools    *tools.Registry
	Store    Conversations
	Usage    UsageRecorder
	Titler   llm.Titler
	Bus      *events.Bus
	Logger   *slog.Logger

	MaxTokens        int
	ForwardReasoning bool
	Pricing          map[string]config.PricingEntry
}

// Loop runs agent turns. It is safe for concurrent use; turns share
// nothing but the configured stores.
type Loop struct {
	provider llm.Provider
	router   *router.Router
	tools    *tools.Registry
	store    Conversations
	usage    UsageRecorder
	titler   llm.Titler
	bus      *events.Bus
	logger   *slog.Logger

	maxTokens int
	adapter   stream.Adapter
	pricing   map[string]config.PricingEntry
	now       func() time.Time
}

// NewLoop creates a loop from cfg.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Loop{
		provider:  cfg.Provider,
		router:    cfg.Router,
		tools:     cfg.Tools,
		store:     cfg.Store,
		usage:     cfg.Usage,
		titler:    cfg.Titler,
		bus:       cfg.Bus,
		logger:    logger,
		maxTokens: maxTokens,
		adapter:   stream.Adapter{ForwardReasoning: cfg.ForwardReasoning, Logger: logger},
		pricing:   cfg.Pricing,
		now:       time.Now,
	}
}

// turn is the per-run state shared by the loop's helpers.
type turn struct {
	def       agents.Definition
	convID    string
	requestID string
	qc        router.QueryConfig
	start     time.Time
	usage     llm.Usage
	iter      int
}

// Run executes one turn and streams its events into sink. The sink
// sees connected first and then either done or a single error event.
// Conversation state is persisted only when the turn completes; every
// failure leaves the stored conversation as it was. Failures after
// validation are returned as *TurnError. Continuing another agent's
// conversation fails validation with *ErrConversationAgent.
func (l *Loop) Run(ctx context.Context, req Request, sink stream.Sink) (*Result, error) {
	def, ok := agents.Get(req.AgentID)
	if !ok {
		return nil, &agents.ErrUnknownAgent{ID: string(req.AgentID)}
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	t := &turn{def: def, convID: req.ConversationID, start: time.Now()}
	if t.convID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate conversation id: %w", err)
		}
		t.convID = id.String()
	}
	log := l.logger.With("conversation_id", t.convID, "agent", def.ID)

	// A conversation stays with the agent that started it. A lookup
	// failure is reported after connected, like any storage failure.
	var ownerErr error
	if req.ConversationID != "" {
		var owner string
		owner, ownerErr = l.store.Owner(ctx, t.convID)
		if ownerErr == nil && owner != "" && owner != string(def.ID) {
			return nil, &ErrConversationAgent{ConversationID: t.convID, Owner: owner, Requested: string(def.ID)}
		}
	}

	if err := sink.Emit(ctx, stream.Event{
		Type:           stream.EventConnected,
		ConversationID: t.convID,
		AgentID:        string(def.ID),
	}); err != nil {
		return nil, l.fail(ctx, t, sink, classify(ctx, err))
	}
	if ownerErr != nil {
		return nil, l.fail(ctx, t, sink, storageFailure(ctx, ownerErr))
	}

	history, err := l.store.Load(ctx, t.convID)
	if err != nil {
		return nil, l.fail(ctx, t, sink, storageFailure(ctx, err))
	}
	history = llm.SanitizeHistory(history)
	isNew := len(history) == 0

	// The title is written while the turn runs.
	var titleCh chan string
	if isNew {
		titleCh = make(chan string, 1)
		go func() { titleCh <- l.title(ctx, req.Message) }()
	}

	toolCtx := tools.WithConversationID(ctx, t.convID)
	l.rememberAttachment(toolCtx, t.convID, req.Attachments)

	qc, decision := l.router.Route(ctx, req.Message, string(def.ID))
	t.qc, t.requestID = qc, decision.RequestID
	log = log.With("request_id", t.requestID)
	log.Info("turn started",
		"new", isNew,
		"history", len(history),
		"complexity", qc.Complexity.String(),
		"model", qc.Model,
		"max_iterations", qc.MaxToolIterations,
	)
	l.bus.Publish(events.NewEvent(events.SourceAgent, events.KindTurnStart, map[string]any{
		"conversation_id": t.convID,
		"agent_id":        string(def.ID),
		"complexity":      qc.Complexity.String(),
		"model":           qc.Model,
	}))

	llmReq := &llm.Request{
		Model:       qc.Model,
		System:      l.systemPrompt(ctx, def, t.convID),
		Tools:       l.tools.Specs(string(def.ID)),
		MaxTokens:   l.maxTokens,
		Temperature: qc.Temperature,
	}
	if qc.ReasoningEnabled {
		llmReq.ReasoningBudget = qc.ReasoningBudget
	}

	msgs := append(history, userMessage(req))

	for t.iter = 0; t.iter < qc.MaxToolIterations; t.iter++ {
		llmReq.Messages = msgs
		resp, err := l.call(ctx, t, llmReq, sink)
		if err != nil {
			return nil, l.fail(ctx, t, sink, classify(ctx, err))
		}

		assistant := llm.StripReasoning(resp.Message)
		invocations := assistant.ToolInvocations()

		if len(invocations) == 0 {
			if strings.TrimSpace(assistant.Text()) == "" {
				log.Warn("empty response from model, using fallback")
				assistant.Content = append(assistant.Content, llm.TextBlock(prompts.EmptyResponseFallback))
				if err := sink.Emit(ctx, stream.Event{Type: stream.EventTextDelta, Text: prompts.EmptyResponseFallback}); err != nil {
					return nil, l.fail(ctx, t, sink, classify(ctx, err))
				}
			}
			msgs = append(msgs, assistant)
			return l.complete(ctx, t, req, msgs, isNew, titleCh, resp.Model, sink)
		}

		msgs = append(msgs, assistant)
		results := l.runTools(toolCtx, t, invocations)
		if err := ctx.Err(); err != nil {
			return nil, l.fail(ctx, t, sink, classify(ctx, err))
		}

		blocks := make([]llm.ContentBlock, len(invocations))
		for i, inv := range invocations {
			res := results[i]
			ok := res.OK
			if err := sink.Emit(ctx, stream.Event{
				Type:     stream.EventToolResultReady,
				ToolID:   inv.ID,
				ToolName: inv.Name,
				OK:       &ok,
				Output:   res.Content(),
			}); err != nil {
				return nil, l.fail(ctx, t, sink, classify(ctx, err))
			}
			blocks[i] = llm.ToolResultBlock(inv.ID, res.Content(), !res.OK)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: blocks})
	}

	log.Warn("tool iteration limit reached", "iterations", t.iter)
	return nil, l.fail(ctx, t, sink, &TurnError{
		Code: CodeIterationLimit,
		Err:  fmt.Errorf("no final answer after %d model calls", qc.MaxToolIterations),
	})
}

// call makes one streamed provider call and records its usage.
func (l *Loop) call(ctx context.Context, t *turn, req *llm.Request, sink stream.Sink) (*stream.Turn, error) {
	l.bus.Publish(events.NewEvent(events.SourceAgent, events.KindLLMCall, map[string]any{
		"conversation_id": t.convID,
		"iter":            t.iter,
		"model":           req.Model,
	}))

	body, err := l.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	resp, err := l.adapter.Consume(ctx, body, sink)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	t.usage.Add(resp.Usage)

	l.bus.Publish(events.NewEvent(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"conversation_id": t.convID,
		"iter":            t.iter,
		"tokens_in":       resp.Usage.InputTokens,
		"tokens_out":      resp.Usage.OutputTokens,
		"tool_calls":      len(resp.Message.ToolInvocations()),
	}))
	l.recordUsage(ctx, t, resp)
	return resp, nil
}

// runTools executes the invocations concurrently. Results are returned
// in invocation order.
func (l *Loop) runTools(ctx context.Context, t *turn, invocations []llm.ContentBlock) []tools.Result {
	results := make([]tools.Result, len(invocations))
	var g errgroup.Group
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = l.tools.Execute(ctx, string(t.def.ID), inv.Name, inv.Input)
			return nil
		})
	}
	_ = g.Wait() // Execute reports failures in the Result
	return results
}

// complete persists the finished conversation and ends the stream.
func (l *Loop) complete(ctx context.Context, t *turn, req Request, msgs []llm.Message, isNew bool, titleCh <-chan string, model string, sink stream.Sink) (*Result, error) {
	conv := &memory.Conversation{
		ID:       t.convID,
		AgentID:  string(t.def.ID),
		UserID:   req.UserID,
		Messages: msgs,
	}
	if isNew {
		conv.CreatedAt = l.now().UTC()
		select {
		case conv.Title = <-titleCh:
		case <-ctx.Done():
			return nil, l.fail(ctx, t, sink, classify(ctx, ctx.Err()))
		}
	}

	if err := l.store.Save(ctx, conv); err != nil {
		return nil, l.fail(ctx, t, sink, storageFailure(ctx, err))
	}

	iterations := t.iter + 1
	total := t.usage
	if err := sink.Emit(ctx, stream.Event{Type: stream.EventUsage, Usage: &total}); err != nil {
		l.logger.Debug("usage event not delivered", "conversation_id", t.convID, "error", err)
	}
	if err := sink.Emit(ctx, stream.Event{Type: stream.EventDone, ConversationID: t.convID}); err != nil {
		l.logger.Debug("done event not delivered", "conversation_id", t.convID, "error", err)
	}

	elapsed := time.Since(t.start)
	l.router.RecordOutcome(t.requestID, elapsed.Milliseconds(), total.InputTokens+total.OutputTokens, iterations, true)
	l.bus.Publish(events.NewEvent(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"conversation_id": t.convID,
		"iterations":      iterations,
		"tokens_in":       total.InputTokens,
		"tokens_out":      total.OutputTokens,
		"elapsed_ms":      elapsed.Milliseconds(),
	}))
	l.logger.Info("turn complete",
		"conversation_id", t.convID,
		"request_id", t.requestID,
		"iterations", iterations,
		"input_tokens", total.InputTokens,
		"output_tokens", total.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	return &Result{
		ConversationID: t.convID,
		RequestID:      t.requestID,
		Title:          conv.Title,
		Message:        msgs[len(msgs)-1],
		Model:          model,
		Iterations:     iterations,
		Usage:          total,
	}, nil
}

// fail reports terr to the sink, the router, and the bus and returns
// it. The error event is delivered even when ctx has ended, within a
// short grace period.
func (l *Loop) fail(ctx context.Context, t *turn, sink stream.Sink, terr *TurnError) error {
	l.logger.Warn("turn failed",
		"conversation_id", t.convID,
		"request_id", t.requestID,
		"code", terr.Code,
		"error", terr.Err,
	)

	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorEmitTimeout)
	defer cancel()
	if err := sink.Emit(ectx, stream.Event{
		Type:           stream.EventError,
		ConversationID: t.convID,
		Code:           string(terr.Code),
		Message:        terr.Message(),
	}); err != nil {
		l.logger.Debug("error event not delivered", "conversation_id", t.convID, "error", err)
	}

	if t.requestID != "" {
		tokens := t.usage.InputTokens + t.usage.OutputTokens
		l.router.RecordOutcome(t.requestID, time.Since(t.start).Milliseconds(), tokens, t.iter, false)
	}
	l.bus.Publish(events.NewEvent(events.SourceAgent, events.KindTurnFailed, map[string]any{
		"conversation_id": t.convID,
		"code":            string(terr.Code),
		"error":           terr.Err.Error(),
	}))
	return terr
}

func (l *Loop) title(ctx context.Context, firstMessage string) string {
	if l.titler == nil {
		return llm.FallbackTitle(firstMessage)
	}
	return l.titler.Title(ctx, firstMessage)
}

func (l *Loop) recordUsage(ctx context.Context, t *turn, resp *stream.Turn) {
	if l.usage == nil {
		return
	}
	rec := usage.Record{
		RequestID:      t.requestID,
		ConversationID: t.convID,
		AgentID:        string(t.def.ID),
		Model:          resp.Model,
		Complexity:     t.qc.Complexity.String(),
		Iteration:      t.iter,
		InputTokens:    resp.Usage.InputTokens,
		OutputTokens:   resp.Usage.OutputTokens,
		CostUSD:        usage.ComputeCost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, l.pricing),
	}
	if err := l.usage.Record(ctx, rec); err != nil {
		l.logger.Warn("usage not recorded", "conversation_id", t.convID, "error", err)
	}
}

// systemPrompt is the agent prompt plus a note about the conversation's
// current file, if any.
func (l *Loop) systemPrompt(ctx context.Context, def agents.Definition, convID string) string {
	system := def.SystemPrompt(l.now())
	fc, err := l.store.LoadFileContext(ctx, convID)
	if err != nil {
		l.logger.Warn("file context unavailable", "conversation_id", convID, "error", err)
		return system
	}
	if fc == nil {
		return system
	}
	return system + "\n\n" + prompts.FileContextNote(fc.FileName, fc.Source, fc.Company)
}

// rememberAttachment makes the first attachment the conversation's
// current file.
func (l *Loop) rememberAttachment(ctx context.Context, convID string, atts []Attachment) {
	if len(atts) == 0 {
		return
	}
	a := atts[0]
	if err := l.store.SaveFileContext(ctx, convID, &memory.FileContext{
		FileName: a.Name,
		Path:     a.Path,
		URL:      a.URL,
		MimeType: a.MimeType,
		Source:   "attachment",
	}); err != nil {
		l.logger.Warn("file context not saved", "conversation_id", convID, "error", err)
	}
}

// userMessage builds the user turn: the text followed by one
// descriptor block per attachment.
func userMessage(req Request) llm.Message {
	m := llm.Message{Role: llm.RoleUser}
	if strings.TrimSpace(req.Message) != "" {
		m.Content = append(m.Content, llm.TextBlock(req.Message))
	}
	for _, a := range req.Attachments {
		m.Content = append(m.Content, llm.TextBlock(describeAttachment(a)))
	}
	return m
}

func describeAttachment(a Attachment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Attached file: %s", a.Name)
	if a.MimeType != "" {
		fmt.Fprintf(&sb, " (%s)", a.MimeType)
	}
	switch {
	case a.Path != "":
		fmt.Fprintf(&sb, ", path %s", a.Path)
	case a.URL != "":
		fmt.Fprintf(&sb, ", url %s", a.URL)
	}
	sb.WriteString("]")
	return sb.String()
}
