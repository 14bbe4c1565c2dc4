package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/grantdesk/internal/crm"
	"github.com/nugget/grantdesk/internal/memory"
)

// CompanyArgs are the arguments for the company tools.
type CompanyArgs struct {
	CompanyName string `json:"company_name" jsonschema_description:"Company name as the user wrote it. Partial names and missing legal suffixes (Inc, Ltd) are fine."`
}

// confirmBelow is the confidence under which the model is told to
// confirm the match with the user.
const confirmBelow = 80

type companyTools struct {
	crm    CRM
	files  FileContexts
	logger *slog.Logger
}

type resolution struct {
	Found      bool         `json:"found"`
	Company    *crm.Company `json:"company,omitempty"`
	Match      *NameMatch   `json:"match,omitempty"`
	Candidates []string     `json:"candidates,omitempty"`
	Note       string       `json:"note,omitempty"`
}

// resolve fuzzy-matches name against the CRM's company list.
func (t *companyTools) resolve(ctx context.Context, name string) (*resolution, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("company_name is required")
	}

	companies, err := t.crm.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	names := make([]string, len(companies))
	for i, c := range companies {
		names[i] = c.Name
	}

	m, ok := MatchName(name, names)
	if !ok {
		return &resolution{
			Found:      false,
			Candidates: names[:min(10, len(names))],
			Note:       fmt.Sprintf("No company matching '%s' found", name),
		}, nil
	}

	company := companies[m.Index]
	res := &resolution{Found: true, Company: &company, Match: &m}
	if m.Confidence < confirmBelow {
		res.Note = fmt.Sprintf("Low-confidence match (%s). Confirm with the user that they mean %s.", m.Rule, company.Name)
	}
	t.logger.Debug("company resolved", "query", name, "company", company.Name,
		"rule", m.Rule, "confidence", m.Confidence)
	return res, nil
}

func (t *companyTools) find(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[CompanyArgs](input)
	if err != nil {
		return "", err
	}
	res, err := t.resolve(ctx, args.CompanyName)
	if err != nil {
		return "", err
	}
	return toJSON(res), nil
}

type companyContext struct {
	resolution
	Deals     []crm.Deal    `json:"deals"`
	Contacts  []crm.Contact `json:"contacts"`
	Documents *Discovery    `json:"documents"`
}

func (t *companyTools) loadContext(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[CompanyArgs](input)
	if err != nil {
		return "", err
	}
	res, err := t.resolve(ctx, args.CompanyName)
	if err != nil {
		return "", err
	}
	if !res.Found {
		return toJSON(res), nil
	}
	id := res.Company.ID

	out := &companyContext{resolution: *res}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deals, err := t.crm.DealsForCompany(gctx, id)
		if err != nil {
			return fmt.Errorf("deals: %w", err)
		}
		out.Deals = deals
		return nil
	})
	g.Go(func() error {
		contacts, err := t.crm.ContactsForCompany(gctx, id)
		if err != nil {
			return fmt.Errorf("contacts: %w", err)
		}
		out.Contacts = contacts
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("load %s: %w", res.Company.Name, err)
	}
	if out.Deals == nil {
		out.Deals = []crm.Deal{}
	}
	if out.Contacts == nil {
		out.Contacts = []crm.Contact{}
	}

	out.Documents = Discover(ctx, t.crm, out.Deals, out.Contacts, t.logger)
	if len(out.Documents.Files) > 0 {
		t.remember(ctx, out.Documents.Files[0], string(out.Documents.Path), res.Company.Name)
	}
	return toJSON(out), nil
}

// remember records f as the conversation's current file.
func (t *companyTools) remember(ctx context.Context, f crm.File, source, company string) {
	convID := ConversationIDFromContext(ctx)
	if t.files == nil || convID == "" {
		return
	}
	fc := &memory.FileContext{
		FileID:   f.ID,
		FileName: f.Name,
		Path:     f.Path,
		URL:      f.URL,
		MimeType: f.MimeType,
		Source:   source,
		Company:  company,
	}
	if err := t.files.SaveFileContext(ctx, convID, fc); err != nil {
		t.logger.Warn("file context not saved", "conversation_id", convID, "error", err)
	}
}
