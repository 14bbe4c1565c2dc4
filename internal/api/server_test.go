package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/nugget/grantdesk/internal/agent"
	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/connwatch"
	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/llm"
	"github.com/nugget/grantdesk/internal/memory"
	"github.com/nugget/grantdesk/internal/router"
	"github.com/nugget/grantdesk/internal/stream"
	"github.com/nugget/grantdesk/internal/usage"
)

// fakeRunner emits a scripted event sequence and returns err.
type fakeRunner struct {
	events []stream.Event
	err    error

	mu   sync.Mutex
	reqs []agent.Request
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{ConversationID: "c1"}, nil
}

func (f *fakeRunner) requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.reqs...)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

type testServer struct {
	srv    *httptest.Server
	runner *fakeRunner
	store  *memory.Store
	usage  *usage.Store
	router *router.Router
	bus    *events.Bus
}

func newTestServer(t *testing.T, runner *fakeRunner) *testServer {
	t.Helper()

	durable, err := memory.NewSQLStoreWithDB(openDB(t))
	if err != nil {
		t.Fatalf("NewSQLStoreWithDB: %v", err)
	}
	bus := events.New()
	store := memory.NewStore(memory.NewMemoryCache(), durable, time.Hour, bus, nil)

	us, err := usage.NewStoreWithDB(openDB(t))
	if err != nil {
		t.Fatalf("usage.NewStoreWithDB: %v", err)
	}

	rtr := router.NewRouter(nil, router.Config{
		FastModel:       "fast-model",
		QualityModel:    "quality-model",
		AgentIndicators: agents.Indicators(),
	})

	s := NewServer(Config{
		Runner:        runner,
		Conversations: store,
		Router:        rtr,
		Usage:         us,
		Bus:           bus,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: ts, runner: runner, store: store, usage: us, router: rtr, bus: bus}
}

func (ts *testServer) postChat(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+"/v1/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func ok(b bool) *bool { return &b }

func TestChat_StreamsNDJSON(t *testing.T) {
	script := []stream.Event{
		{Type: stream.EventConnected, ConversationID: "c1", AgentID: "grant-cards"},
		{Type: stream.EventToolInvocationStarted, ToolID: "t1", ToolName: "find_company"},
		{Type: stream.EventToolResultReady, ToolID: "t1", ToolName: "find_company", OK: ok(true), Output: "Acme"},
		{Type: stream.EventTextDelta, Text: "Hello "},
		{Type: stream.EventTextDelta, Text: "there"},
		{Type: stream.EventUsage, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 4}},
		{Type: stream.EventDone, ConversationID: "c1"},
	}
	ts := newTestServer(t, &fakeRunner{events: script})

	resp := ts.postChat(t, `{"agentId":"grant-cards","userId":"u1","message":"hi","attachments":[{"name":"a.pdf","mimeType":"application/pdf","path":"/Clients/a.pdf"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got []stream.Event
	if err := stream.ReadEvents(resp.Body, func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != len(script) {
		t.Fatalf("got %d events, want %d", len(got), len(script))
	}
	for i := range script {
		if got[i].Type != script[i].Type {
			t.Errorf("event %d type = %q, want %q", i, got[i].Type, script[i].Type)
		}
	}
	if got[2].OK == nil || !*got[2].OK || got[2].Output != "Acme" {
		t.Errorf("tool result = %+v", got[2])
	}
	if got[5].Usage == nil || got[5].Usage.InputTokens != 10 {
		t.Errorf("usage = %+v", got[5].Usage)
	}

	reqs := ts.runner.requests()
	if len(reqs) != 1 {
		t.Fatalf("runner called %d times", len(reqs))
	}
	req := reqs[0]
	if req.AgentID != agents.GrantCards || req.UserID != "u1" || req.Message != "hi" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].Path != "/Clients/a.pdf" {
		t.Errorf("attachments = %+v", req.Attachments)
	}
}

func TestChat_TurnErrorIsInBand(t *testing.T) {
	runner := &fakeRunner{
		events: []stream.Event{
			{Type: stream.EventConnected, ConversationID: "c1"},
			{Type: stream.EventError, Code: string(agent.CodeIterationLimit), Message: "too many steps"},
		},
		err: &agent.TurnError{Code: agent.CodeIterationLimit, Err: errors.New("cap")},
	}
	ts := newTestServer(t, runner)

	resp := ts.postChat(t, `{"agentId":"etg-writer","message":"draft it"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var last stream.Event
	if err := stream.ReadEvents(resp.Body, func(ev stream.Event) error {
		last = ev
		return nil
	}); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if last.Type != stream.EventError || last.Code != "iteration_limit" {
		t.Errorf("last event = %+v", last)
	}
}

func TestChat_FailureBeforeAnyEvent(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{err: errors.New("boom")})

	resp := ts.postChat(t, `{"agentId":"etg-writer","message":"draft it"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestChat_ConversationOfAnotherAgent(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{err: &agent.ErrConversationAgent{
		ConversationID: "c1", Owner: "grant-cards", Requested: "canexport-claims",
	}})

	resp := ts.postChat(t, `{"agentId":"canexport-claims","conversationId":"c1","message":"audit"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.Error.Message, "grant-cards") {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestChat_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"agentId":`},
		{"unknown agent", `{"agentId":"poet","message":"hi"}`},
		{"missing agent", `{"message":"hi"}`},
		{"empty message", `{"agentId":"grant-cards","message":"   "}`},
		{"attachment without location", `{"agentId":"grant-cards","message":"hi","attachments":[{"name":"x.pdf"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeRunner{})
			resp := ts.postChat(t, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body struct {
				Error struct {
					Message string `json:"message"`
					Code    int    `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != http.StatusBadRequest || body.Error.Message == "" {
				t.Errorf("error body = %+v", body)
			}
			if n := len(ts.runner.requests()); n != 0 {
				t.Errorf("runner called %d times", n)
			}
		})
	}
}

func TestChat_AttachmentOnly(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{events: []stream.Event{{Type: stream.EventDone}}})

	resp := ts.postChat(t, `{"agentId":"bcafe-writer","attachments":[{"name":"plan.docx","url":"https://files.example.com/plan.docx"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})

	var body struct {
		Count  int `json:"count"`
		Agents []struct {
			ID    string   `json:"id"`
			Tools []string `json:"tools"`
		} `json:"agents"`
	}
	if code := ts.getJSON(t, "/v1/agents", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != len(agents.All()) || len(body.Agents) != body.Count {
		t.Fatalf("count = %d, agents = %d", body.Count, len(body.Agents))
	}
	for _, a := range body.Agents {
		if a.ID == "" || len(a.Tools) == 0 {
			t.Errorf("agent = %+v", a)
		}
	}
}

func TestConversations_ListGetDelete(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for _, c := range []*memory.Conversation{
		{ID: "c1", AgentID: "grant-cards", UserID: "u1", Title: "Acme grant", CreatedAt: now, UpdatedAt: now},
		{ID: "c2", AgentID: "etg-writer", UserID: "u1", Title: "ETG", CreatedAt: now, UpdatedAt: now.Add(time.Minute)},
		{ID: "c3", AgentID: "grant-cards", UserID: "u2", Title: "Other", CreatedAt: now, UpdatedAt: now},
	} {
		c.Messages = []llm.Message{
			{Role: "user", Content: []llm.ContentBlock{llm.TextBlock("hello")}},
			{Role: "assistant", Content: []llm.ContentBlock{llm.TextBlock("hi")}},
		}
		if err := ts.store.Save(ctx, c); err != nil {
			t.Fatalf("Save %s: %v", c.ID, err)
		}
	}

	var list struct {
		Count         int              `json:"count"`
		Conversations []memory.Summary `json:"conversations"`
	}
	if code := ts.getJSON(t, "/v1/conversations?userId=u1", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Count != 2 || list.Conversations[0].ID != "c2" {
		t.Errorf("list = %+v", list)
	}

	list.Conversations = nil
	ts.getJSON(t, "/v1/conversations?agentId=grant-cards&limit=1", &list)
	if len(list.Conversations) != 1 || list.Conversations[0].AgentID != "grant-cards" {
		t.Errorf("filtered list = %+v", list.Conversations)
	}

	if code := ts.getJSON(t, "/v1/conversations?agentId=poet", nil); code != http.StatusBadRequest {
		t.Errorf("unknown agent filter status = %d, want 400", code)
	}

	var conv memory.Conversation
	if code := ts.getJSON(t, "/v1/conversations/c1", &conv); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if conv.Title != "Acme grant" || len(conv.Messages) != 2 {
		t.Errorf("conversation = %+v", conv)
	}

	if code := ts.getJSON(t, "/v1/conversations/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.srv.URL+"/v1/conversations/c1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var deleted map[string]string
	json.NewDecoder(resp.Body).Decode(&deleted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || deleted["deleted"] != "c1" {
		t.Errorf("delete = %d %v", resp.StatusCode, deleted)
	}
	if code := ts.getJSON(t, "/v1/conversations/c1", nil); code != http.StatusNotFound {
		t.Errorf("after delete status = %d, want 404", code)
	}
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})
	ctx := context.Background()

	for _, rec := range []usage.Record{
		{ConversationID: "c1", AgentID: "grant-cards", Model: "fast-model", InputTokens: 100, OutputTokens: 20, CostUSD: 0.01},
		{ConversationID: "c1", AgentID: "grant-cards", Model: "quality-model", InputTokens: 300, OutputTokens: 50, CostUSD: 0.05},
		{ConversationID: "c2", AgentID: "etg-writer", Model: "quality-model", InputTokens: 50, OutputTokens: 5, CostUSD: 0.02},
	} {
		if err := ts.usage.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var conv struct {
		Total   usage.Summary  `json:"total"`
		Records []usage.Record `json:"records"`
	}
	if code := ts.getJSON(t, "/v1/usage?conversationId=c1", &conv); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(conv.Records) != 2 || conv.Total.TotalInputTokens != 400 || conv.Total.TotalOutputTokens != 70 {
		t.Errorf("conversation usage = %+v", conv)
	}

	var window struct {
		Days    int                       `json:"days"`
		Total   usage.Summary             `json:"total"`
		ByModel map[string]*usage.Summary `json:"byModel"`
		ByAgent map[string]*usage.Summary `json:"byAgent"`
	}
	if code := ts.getJSON(t, "/v1/usage?days=1", &window); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if window.Days != 1 || window.Total.TotalRecords != 3 {
		t.Errorf("window = %+v", window)
	}
	if m := window.ByModel["quality-model"]; m == nil || m.TotalRecords != 2 {
		t.Errorf("byModel = %+v", window.ByModel)
	}
	if a := window.ByAgent["etg-writer"]; a == nil || a.TotalInputTokens != 50 {
		t.Errorf("byAgent = %+v", window.ByAgent)
	}
}

func TestRouterEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})

	_, d := ts.router.Route(context.Background(), "What is the deadline?", "grant-cards")
	ts.router.RecordOutcome(d.RequestID, 50, 120, 1, true)

	var stats router.Stats
	if code := ts.getJSON(t, "/v1/router/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("stats = %+v", stats)
	}

	var audit struct {
		Count int `json:"count"`
	}
	ts.getJSON(t, "/v1/router/audit?limit=5", &audit)
	if audit.Count != 1 {
		t.Errorf("audit count = %d", audit.Count)
	}

	if code := ts.getJSON(t, "/v1/router/explain/"+d.RequestID, nil); code != http.StatusOK {
		t.Errorf("explain status = %d", code)
	}
	if code := ts.getJSON(t, "/v1/router/explain/nope", nil); code != http.StatusNotFound {
		t.Errorf("unknown explain status = %d, want 404", code)
	}
}

func TestOptionalCollaborators(t *testing.T) {
	s := NewServer(Config{Runner: &fakeRunner{}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, path := range []string{"/v1/usage", "/v1/router/stats", "/v1/events"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})

	var health map[string]string
	if code := ts.getJSON(t, "/health", &health); code != http.StatusOK || health["status"] != "healthy" {
		t.Errorf("health = %d %v", code, health)
	}
	var version map[string]any
	if code := ts.getJSON(t, "/v1/version", &version); code != http.StatusOK || len(version) == 0 {
		t.Errorf("version = %d %v", code, version)
	}
}

type staticHealth []connwatch.ServiceStatus

func (h staticHealth) Status() []connwatch.ServiceStatus { return h }

func TestHealth_Services(t *testing.T) {
	tests := []struct {
		name       string
		services   staticHealth
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all ready",
			services:   staticHealth{{Name: "cache", Ready: true}, {Name: "durable", Ready: true}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "one down",
			services:   staticHealth{{Name: "cache", Ready: true}, {Name: "docstore", LastError: "dial tcp: refused"}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{Runner: &fakeRunner{}, Health: tt.services})
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health: %v", err)
			}
			defer resp.Body.Close()

			var body struct {
				Status   string                    `json:"status"`
				Services []connwatch.ServiceStatus `json:"services"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.StatusCode != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("health = %d %q, want %d %q", resp.StatusCode, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Services) != len(tt.services) {
				t.Errorf("services = %+v", body.Services)
			}
		})
	}
}

func TestEvents_WebSocket(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{})

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/events?source=agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the handler to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for ts.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts.bus.Publish(events.NewEvent(events.SourceStore, events.KindConversationDeleted, map[string]any{"conversation_id": "c9"}))
	ts.bus.Publish(events.NewEvent(events.SourceAgent, events.KindTurnStart, map[string]any{"conversation_id": "c1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Source != events.SourceAgent || ev.Kind != events.KindTurnStart {
		t.Errorf("event = %+v, want filtered agent turn_start", ev)
	}
	if ev.Data["conversation_id"] != "c1" {
		t.Errorf("data = %v", ev.Data)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline = time.Now().Add(2 * time.Second)
	for ts.bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChat_ClientDisconnectCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	runner := runnerFunc(func(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.Result, error) {
		if err := sink.Emit(ctx, stream.Event{Type: stream.EventConnected}); err != nil {
			done <- err
			return nil, err
		}
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return nil, &agent.TurnError{Code: agent.CodeCanceled, Err: ctx.Err()}
	})
	s := NewServer(Config{Runner: runner})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/chat",
		bytes.NewBufferString(`{"agentId":"grant-cards","message":"hi"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	<-started
	cancel()
	resp.Body.Close()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("turn ended with %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not cancelled after the client went away")
	}
}

type runnerFunc func(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.Result, error)

func (f runnerFunc) Run(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.Result, error) {
	return f(ctx, req, sink)
}
