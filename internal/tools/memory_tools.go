package tools

import (
	"context"
	"encoding/json"

	"github.com/nugget/grantdesk/internal/facts"
)

type memoryTools struct {
	facts *facts.Tools
}

func (t *memoryTools) read(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[facts.RecallArgs](input)
	if err != nil {
		return "", err
	}
	return t.facts.Recall(ctx, AgentIDFromContext(ctx), args)
}

func (t *memoryTools) write(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[facts.RememberArgs](input)
	if err != nil {
		return "", err
	}
	return t.facts.Remember(ctx, AgentIDFromContext(ctx), args)
}
