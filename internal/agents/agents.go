// Package agents defines the closed set of agent identities and what
// each one is allowed to do.
package agents

import (
	"fmt"
	"time"

	"github.com/nugget/grantdesk/internal/prompts"
	"github.com/nugget/grantdesk/internal/tools"
)

// ID identifies an agent.
type ID string

const (
	GrantCards      ID = "grant-cards"
	ETGWriter       ID = "etg-writer"
	CanExportClaims ID = "canexport-claims"
	BCAFEWriter     ID = "bcafe-writer"
)

// ErrUnknownAgent is returned by Parse for ids outside the closed set.
type ErrUnknownAgent struct {
	ID string
}

func (e *ErrUnknownAgent) Error() string {
	return fmt.Sprintf("unknown agent %q", e.ID)
}

// Definition describes one agent.
type Definition struct {
	ID          ID           `json:"id"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description"`
	Tools       []tools.Name `json:"tools"`

	// Indicators are extra phrases that mark a query to this agent as
	// complex.
	Indicators []string `json:"-"`

	prompt func() string
}

// SystemPrompt returns the agent's full system prompt for the given
// moment.
func (d Definition) SystemPrompt(now time.Time) string {
	return prompts.AgentSystem(d.prompt(), now)
}

var companyTools = []tools.Name{
	tools.LoadCompanyContext,
	tools.FindCompany,
	tools.GetFileContent,
	tools.ListDocuments,
	tools.MemoryRead,
	tools.MemoryWrite,
}

func with(base []tools.Name, extra ...tools.Name) []tools.Name {
	out := make([]tools.Name, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// definitions is the declaration order used by All.
var definitions = []Definition{
	{
		ID:          GrantCards,
		DisplayName: "Grant Cards",
		Description: "Summarizes which funding programs a company is likely eligible for.",
		Tools:       with(companyTools, tools.CreateDocument),
		Indicators:  []string{"grant card", "eligible programs"},
		prompt:      prompts.GrantCards,
	},
	{
		ID:          ETGWriter,
		DisplayName: "ETG Writer",
		Description: "Drafts employer training grant applications.",
		Tools:       with(companyTools, tools.CreateDocument),
		Indicators:  []string{"training plan", "business case", "trainee"},
		prompt:      prompts.ETGWriter,
	},
	{
		ID:          CanExportClaims,
		DisplayName: "CanExport Claims",
		Description: "Audits export-development expense claims.",
		Tools:       companyTools,
		Indicators:  []string{"claim", "invoice", "receipt", "expense"},
		prompt:      prompts.CanExportClaims,
	},
	{
		ID:          BCAFEWriter,
		DisplayName: "BCAFE Writer",
		Description: "Drafts agri-food marketing grant applications.",
		Tools:       with(companyTools, tools.CreateDocument),
		Indicators:  []string{"marketing plan", "target market", "budget"},
		prompt:      prompts.BCAFEWriter,
	},
}

var byID = func() map[ID]Definition {
	m := make(map[ID]Definition, len(definitions))
	for _, d := range definitions {
		m[d.ID] = d
	}
	return m
}()

// Parse resolves s to a known agent id.
func Parse(s string) (ID, error) {
	if _, ok := byID[ID(s)]; !ok {
		return "", &ErrUnknownAgent{ID: s}
	}
	return ID(s), nil
}

// Get returns the definition for id. The boolean is false for ids that
// did not come from Parse.
func Get(id ID) (Definition, bool) {
	d, ok := byID[id]
	return d, ok
}

// All returns every agent in declaration order.
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// ToolSubsets maps each agent id to its allowed tools, for the tool
// registry.
func ToolSubsets() map[string][]tools.Name {
	out := make(map[string][]tools.Name, len(definitions))
	for _, d := range definitions {
		out[string(d.ID)] = append([]tools.Name(nil), d.Tools...)
	}
	return out
}

// Indicators maps each agent id to its complex-query indicators, for
// the classifier.
func Indicators() map[string][]string {
	out := make(map[string][]string, len(definitions))
	for _, d := range definitions {
		out[string(d.ID)] = d.Indicators
	}
	return out
}
