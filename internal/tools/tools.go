// Package tools holds the tool registry and executor, and the tools the
// agents can call: CRM company lookups, document discovery and
// retrieval, document creation, and long-term notes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/llm"
)

// Name identifies a tool. The set is closed: every name an agent may
// reference is declared here.
type Name string

const (
	LoadCompanyContext Name = "load_company_context"
	FindCompany        Name = "find_company"
	GetFileContent     Name = "get_file_content"
	ListDocuments      Name = "list_documents"
	CreateDocument     Name = "create_document"
	MemoryRead         Name = "memory_read"
	MemoryWrite        Name = "memory_write"
)

// declared is the catalog order.
var declared = []Name{
	LoadCompanyContext,
	FindCompany,
	GetFileContent,
	ListDocuments,
	CreateDocument,
	MemoryRead,
	MemoryWrite,
}

// Known reports whether n is a declared tool name.
func Known(n Name) bool {
	for _, d := range declared {
		if d == n {
			return true
		}
	}
	return false
}

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 30 * time.Second

// Handler runs a tool with the model's JSON input and returns the text
// fed back to the model.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a callable tool.
type Tool struct {
	Name        Name
	Description string
	Schema      map[string]any
	Handler     Handler
}

// Result is the uniform outcome of a tool invocation.
type Result struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Content is the text returned to the model for this result.
func (r Result) Content() string {
	if r.OK {
		return r.Output
	}
	return r.Error
}

func failure(err error) Result {
	return Result{OK: false, Error: "Error: " + err.Error()}
}

// Registry holds the configured tools and the per-agent subsets.
type Registry struct {
	logger  *slog.Logger
	timeout time.Duration
	bus     *events.Bus

	tools   map[Name]*Tool
	subsets map[string]map[Name]bool
	order   map[string][]Name
}

// Config configures a Registry.
type Config struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
	// Subsets lists the tools each agent may call, in catalog order.
	Subsets map[string][]Name
	Bus     *events.Bus
	Logger  *slog.Logger
}

// NewRegistry creates a registry with the built-in tools whose
// dependencies are present in deps. It fails when a subset names a tool
// outside the declared set.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{
		logger:  cfg.Logger.With("component", "tools"),
		timeout: cfg.Timeout,
		bus:     cfg.Bus,
		tools:   make(map[Name]*Tool),
		subsets: make(map[string]map[Name]bool, len(cfg.Subsets)),
		order:   make(map[string][]Name, len(cfg.Subsets)),
	}

	for agent, names := range cfg.Subsets {
		allowed := make(map[Name]bool, len(names))
		for _, n := range names {
			if !Known(n) {
				return nil, fmt.Errorf("agent %s: unknown tool %q", agent, n)
			}
			allowed[n] = true
		}
		r.subsets[agent] = allowed
		r.order[agent] = append([]Name(nil), names...)
	}

	r.registerBuiltins(deps)
	return r, nil
}

// Register adds a tool to the registry, replacing any tool with the
// same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name Name) *Tool {
	return r.tools[name]
}

// Available reports whether agentID may call name and the tool is
// configured.
func (r *Registry) Available(agentID string, name Name) bool {
	return r.subsets[agentID][name] && r.tools[name] != nil
}

// Specs returns the catalog advertised to the provider for agentID, in
// the agent's declaration order. Unconfigured tools are omitted.
func (r *Registry) Specs(agentID string) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, n := range r.order[agentID] {
		t := r.tools[n]
		if t == nil {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        string(t.Name),
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return specs
}

// Execute runs a tool for agentID. It never returns an error and never
// panics: unavailability, malformed input, handler errors, panics, and
// timeouts all become failure results for the model to react to.
func (r *Registry) Execute(ctx context.Context, agentID, name string, input json.RawMessage) Result {
	start := time.Now()
	log := r.logger.With("tool", name, "agent", agentID)

	res := r.execute(ctx, agentID, Name(name), input)

	elapsed := time.Since(start)
	if res.OK {
		log.Debug("tool executed", "duration", elapsed.Round(time.Millisecond), "result_len", len(res.Output))
	} else {
		log.Warn("tool failed", "duration", elapsed.Round(time.Millisecond), "error", res.Error)
	}
	r.bus.Publish(events.NewEvent(events.SourceTools, events.KindToolDone, map[string]any{
		"conversation_id": ConversationIDFromContext(ctx),
		"tool":            name,
		"ok":              res.OK,
		"duration_ms":     elapsed.Milliseconds(),
	}))
	return res
}

func (r *Registry) execute(ctx context.Context, agentID string, name Name, input json.RawMessage) Result {
	tool := r.tools[name]
	if tool == nil || !r.subsets[agentID][name] {
		return failure(&ErrToolUnavailable{ToolName: string(name), AgentID: agentID})
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	ctx, cancel := context.WithTimeout(withAgentID(ctx, agentID), r.timeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked", "tool", name, "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool %s crashed: %v", name, p)}
			}
		}()
		out, err := tool.Handler(ctx, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return failure(o.err)
		}
		return Result{OK: true, Output: o.out}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return failure(fmt.Errorf("tool %s timed out after %s", name, r.timeout))
		}
		return failure(ctx.Err())
	}
}

// decode unmarshals the model's input into a typed argument struct.
func decode[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"json encoding failed"}`
	}
	return string(b)
}
