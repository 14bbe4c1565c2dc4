package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nugget/grantdesk/internal/agent"
	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/stream"
)

type askOptions struct {
	agent          string
	message        string
	conversationID string
	json           bool
}

// runAsk handles "grantdesk ask <agent> <message>". It runs one turn
// against the configured stores and prints the answer as it streams.
// Logs go to stderr so stdout carries only the answer.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, opts askOptions) error {
	agentID, err := agents.Parse(opts.agent)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, cfg.LogFormat)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sink stream.Sink
	if opts.json {
		sink = jsonSink{enc: stream.NewEncoder(stdout)}
	} else {
		sink = &textSink{out: stdout, status: stderr}
	}

	res, err := a.loop.Run(ctx, agent.Request{
		AgentID:        agentID,
		ConversationID: opts.conversationID,
		UserID:         "cli",
		Message:        opts.message,
	}, sink)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if !opts.json {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stderr, "conversation %s (%s, %d in / %d out tokens)\n",
			res.ConversationID, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	}
	return nil
}

// jsonSink writes the raw event stream, as the HTTP API would.
type jsonSink struct {
	enc *stream.Encoder
}

func (s jsonSink) Emit(_ context.Context, ev stream.Event) error {
	return s.enc.Encode(ev)
}

// textSink prints answer text to out and tool activity to status.
type textSink struct {
	out    io.Writer
	status io.Writer
}

func (s *textSink) Emit(_ context.Context, ev stream.Event) error {
	switch ev.Type {
	case stream.EventTextDelta:
		_, err := io.WriteString(s.out, ev.Text)
		return err
	case stream.EventToolInvocationStarted:
		fmt.Fprintf(s.status, "→ %s\n", ev.ToolName)
	case stream.EventToolResultReady:
		if ev.OK != nil && !*ev.OK {
			fmt.Fprintf(s.status, "✗ %s: %s\n", ev.ToolName, ev.Output)
		}
	case stream.EventError:
		fmt.Fprintf(s.status, "error: %s\n", ev.Message)
	}
	return nil
}
