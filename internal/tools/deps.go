package tools

import (
	"context"

	"github.com/nugget/grantdesk/internal/crm"
	"github.com/nugget/grantdesk/internal/docstore"
	"github.com/nugget/grantdesk/internal/extract"
	"github.com/nugget/grantdesk/internal/facts"
	"github.com/nugget/grantdesk/internal/fetch"
	"github.com/nugget/grantdesk/internal/memory"
)

// CRM is the business-data API the company tools read from.
type CRM interface {
	ListCompanies(ctx context.Context) ([]crm.Company, error)
	GetCompany(ctx context.Context, id string) (*crm.Company, error)
	DealsForCompany(ctx context.Context, companyID string) ([]crm.Deal, error)
	ContactsForCompany(ctx context.Context, companyID string) ([]crm.Contact, error)
	EmailsForDeal(ctx context.Context, dealID string) ([]crm.Email, error)
	FilesForDeal(ctx context.Context, dealID string) ([]crm.File, error)
	FilesForContact(ctx context.Context, contactID string) ([]crm.File, error)
}

// DocStore is the document store the file tools read and write.
type DocStore interface {
	List(ctx context.Context, dir string) ([]docstore.Entry, error)
	ReadFile(ctx context.Context, name string, limit int64) ([]byte, *docstore.Entry, error)
	WriteFile(ctx context.Context, name string, data []byte) (*docstore.Entry, error)
}

// URLFetcher retrieves externally hosted files.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (*fetch.Result, error)
}

// FileContexts stores the last file each conversation referenced.
type FileContexts interface {
	LoadFileContext(ctx context.Context, id string) (*memory.FileContext, error)
	SaveFileContext(ctx context.Context, id string, fc *memory.FileContext) error
}

// Deps are the collaborators the built-in tools use. A tool whose
// collaborators are nil is not registered.
type Deps struct {
	CRM       CRM
	Docs      DocStore
	Fetcher   URLFetcher
	Facts     *facts.Tools
	Files     FileContexts
	Extractor extract.Extractor

	// OutputDir is the document-store folder create_document writes to.
	OutputDir string
}

func (r *Registry) registerBuiltins(deps Deps) {
	if deps.Extractor == nil {
		deps.Extractor = extract.RegexExtractor{}
	}

	if deps.CRM != nil {
		ct := &companyTools{crm: deps.CRM, files: deps.Files, logger: r.logger}
		r.Register(&Tool{
			Name:        LoadCompanyContext,
			Description: "Load everything known about a company in one call: resolves the name against the CRM (fuzzy, with a confidence score), then returns its deals, contacts, and the most relevant documents. Use this first whenever the user mentions a company.",
			Schema:      GenerateSchema[CompanyArgs](),
			Handler:     ct.loadContext,
		})
		r.Register(&Tool{
			Name:        FindCompany,
			Description: "Resolve a company name against the CRM without loading its records. Returns the best match, its confidence (0-100), and the rule that matched. Use to confirm which company the user means.",
			Schema:      GenerateSchema[CompanyArgs](),
			Handler:     ct.find,
		})
	}

	if deps.Docs != nil || deps.Fetcher != nil {
		dt := &documentTools{
			docs:      deps.Docs,
			fetcher:   deps.Fetcher,
			files:     deps.Files,
			extractor: deps.Extractor,
			outputDir: deps.OutputDir,
			logger:    r.logger,
		}
		r.Register(&Tool{
			Name:        GetFileContent,
			Description: "Read a document's text by store path or URL. With no arguments, reads the file most recently referenced in this conversation. Also returns candidate dates and amounts found in the text; treat those as unverified hints.",
			Schema:      GenerateSchema[FileArgs](),
			Handler:     dt.getContent,
		})
		if deps.Docs != nil {
			r.Register(&Tool{
				Name:        ListDocuments,
				Description: "List the files and folders in a document store folder.",
				Schema:      GenerateSchema[ListArgs](),
				Handler:     dt.list,
			})
			r.Register(&Tool{
				Name:        CreateDocument,
				Description: "Create a document from markdown in the shared document store. Returns the path of the new document.",
				Schema:      GenerateSchema[CreateArgs](),
				Handler:     dt.create,
			})
		}
	}

	if deps.Facts != nil {
		mt := &memoryTools{facts: deps.Facts}
		r.Register(&Tool{
			Name:        MemoryRead,
			Description: "Recall notes saved in earlier conversations: by category and key, by search term, or list everything.",
			Schema:      GenerateSchema[facts.RecallArgs](),
			Handler:     mt.read,
		})
		r.Register(&Tool{
			Name:        MemoryWrite,
			Description: "Save a note for future conversations, such as a company detail or a user preference. Saving the same category and key again replaces the note.",
			Schema:      GenerateSchema[facts.RememberArgs](),
			Handler:     mt.write,
		})
	}
}
