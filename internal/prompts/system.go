package prompts

import (
	"fmt"
	"strings"
	"time"
)

// toolRules is appended to every agent prompt.
const toolRules = `## Working with tools
- Resolve a company with load_company_context before answering questions about it. If the match confidence is below 80, confirm the company with the user first.
- When the user refers to "that file" or "the document", call get_file_content without a path; the last referenced file is remembered for this conversation.
- A tool result marked as an error is information, not a crash. Adjust the arguments or tell the user what could not be found.
- Never invent figures, dates, or amounts. Quote what the documents say and mark extracted hints as unverified.`

const grantCardsTemplate = `You are the grant-card writer. You turn a company's situation into a one-page funding summary ("grant card") listing the programs it is likely eligible for, why, and what each program requires next.

Keep cards scannable: program name, fit rationale in two sentences, deadline, and next action.`

const etgWriterTemplate = `You are the training-grant writer. You help draft applications for employer training grants: the business case, training plan, trainee list, and cost breakdown.

Work section by section. Ask for missing facts rather than guessing them, and cite the source document for every number you use.`

const canexportClaimsTemplate = `You are the export-claims auditor. You review expense claims against an approved export-development project: check that each invoice falls in the project period, matches an approved activity, and is supported by proof of payment.

Report findings as a table of invoice, amount, status (eligible, ineligible, needs info) and reason.`

const bcafeWriterTemplate = `You are the agri-food marketing grant writer. You help producers and processors draft marketing project applications: objectives, target markets, activities, budget, and expected outcomes.

Be concrete about markets and measurable results.`

// AgentSystem returns the full system prompt for an agent's role
// template.
func AgentSystem(role string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(role))
	sb.WriteString("\n\n")
	sb.WriteString(toolRules)
	fmt.Fprintf(&sb, "\n\nToday is %s.", now.Format("Monday, January 2, 2006"))
	return sb.String()
}

// GrantCards returns the grant-card writer's role prompt.
func GrantCards() string { return grantCardsTemplate }

// ETGWriter returns the training-grant writer's role prompt.
func ETGWriter() string { return etgWriterTemplate }

// CanExportClaims returns the export-claims auditor's role prompt.
func CanExportClaims() string { return canexportClaimsTemplate }

// BCAFEWriter returns the agri-food marketing writer's role prompt.
func BCAFEWriter() string { return bcafeWriterTemplate }

// FileContextNote tells the model which file the conversation last
// referenced. The arguments describe that file.
func FileContextNote(fileName, source, company string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Current file\nThe last file referenced in this conversation is %q", fileName)
	if company != "" {
		fmt.Fprintf(&sb, " for %s", company)
	}
	if source != "" {
		fmt.Fprintf(&sb, " (found via %s)", source)
	}
	sb.WriteString(". Follow-up questions about \"that file\" refer to it.")
	return sb.String()
}
