package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tools implements the memory_read and memory_write tool handlers.
type Tools struct {
	store *Store
}

// NewTools creates fact tools using the given store.
func NewTools(store *Store) *Tools {
	return &Tools{store: store}
}

// RememberArgs are arguments for the memory_write tool.
type RememberArgs struct {
	Category string `json:"category,omitempty" jsonschema:"enum=company,enum=program,enum=preference,enum=general" jsonschema_description:"Kind of note (default general)"`
	Key      string `json:"key" jsonschema_description:"Short identifier for the note, e.g. the company or program name"`
	Value    string `json:"value" jsonschema_description:"The information to remember"`
	Source   string `json:"source,omitempty" jsonschema_description:"Where this came from"`
}

// Remember stores a note for later recall.
func (t *Tools) Remember(ctx context.Context, agent string, args RememberArgs) (string, error) {
	if args.Category == "" {
		args.Category = string(CategoryGeneral)
	}
	cat := Category(args.Category)
	if !ValidCategory(cat) {
		return "", fmt.Errorf("unknown category %q", args.Category)
	}
	if strings.TrimSpace(args.Key) == "" {
		return "", fmt.Errorf("key is required")
	}
	if strings.TrimSpace(args.Value) == "" {
		return "", fmt.Errorf("value is required")
	}

	fact, err := t.store.Set(ctx, agent, cat, args.Key, args.Value, args.Source)
	if err != nil {
		return "", fmt.Errorf("store fact: %w", err)
	}
	return fmt.Sprintf("Remembered: [%s] %s = %s", fact.Category, fact.Key, fact.Value), nil
}

// RecallArgs are arguments for the memory_read tool.
type RecallArgs struct {
	Category string `json:"category,omitempty" jsonschema_description:"Optional category filter"`
	Key      string `json:"key,omitempty" jsonschema_description:"Specific key to recall (requires category)"`
	Query    string `json:"query,omitempty" jsonschema_description:"Search term matched against keys and values"`
}

// Recall retrieves notes from memory.
func (t *Tools) Recall(ctx context.Context, agent string, args RecallArgs) (string, error) {
	// Specific key lookup
	if args.Category != "" && args.Key != "" {
		fact, err := t.store.Get(ctx, agent, Category(args.Category), args.Key)
		if errors.Is(err, ErrNotFound) {
			return "Not found", nil
		}
		if err != nil {
			return "", fmt.Errorf("get fact: %w", err)
		}
		return fmt.Sprintf("[%s] %s = %s", fact.Category, fact.Key, fact.Value), nil
	}

	if args.Query != "" {
		facts, err := t.store.Search(ctx, agent, args.Query)
		if err != nil {
			return "", fmt.Errorf("search: %w", err)
		}
		if len(facts) == 0 {
			return fmt.Sprintf("No notes matching '%s'", args.Query), nil
		}
		return formatFacts(facts), nil
	}

	facts, err := t.store.List(ctx, agent, Category(args.Category))
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}
	if len(facts) == 0 {
		return "No notes stored yet", nil
	}
	return formatFacts(facts), nil
}

func formatFacts(facts []*Fact) string {
	var sb strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&sb, "[%s] %s = %s\n", f.Category, f.Key, f.Value)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
