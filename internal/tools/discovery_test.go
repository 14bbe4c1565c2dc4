package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nugget/grantdesk/internal/crm"
	"github.com/nugget/grantdesk/internal/memory"
)

// fakeCRM serves canned records keyed by id.
type fakeCRM struct {
	companies    []crm.Company
	deals        map[string][]crm.Deal
	contacts     map[string][]crm.Contact
	emails       map[string][]crm.Email
	dealFiles    map[string][]crm.File
	contactFiles map[string][]crm.File

	dealFilesErr error
	listErr      error

	mu    sync.Mutex
	calls []string
}

func (f *fakeCRM) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCRM) ListCompanies(context.Context) ([]crm.Company, error) {
	f.record("companies")
	return f.companies, f.listErr
}

func (f *fakeCRM) GetCompany(_ context.Context, id string) (*crm.Company, error) {
	for _, c := range f.companies {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, crm.ErrNotFound
}

func (f *fakeCRM) DealsForCompany(_ context.Context, id string) ([]crm.Deal, error) {
	f.record("deals:" + id)
	return f.deals[id], nil
}

func (f *fakeCRM) ContactsForCompany(_ context.Context, id string) ([]crm.Contact, error) {
	f.record("contacts:" + id)
	return f.contacts[id], nil
}

func (f *fakeCRM) EmailsForDeal(_ context.Context, id string) ([]crm.Email, error) {
	f.record("emails:" + id)
	return f.emails[id], nil
}

func (f *fakeCRM) FilesForDeal(_ context.Context, id string) ([]crm.File, error) {
	f.record("deal_files:" + id)
	return f.dealFiles[id], f.dealFilesErr
}

func (f *fakeCRM) FilesForContact(_ context.Context, id string) ([]crm.File, error) {
	f.record("contact_files:" + id)
	return f.contactFiles[id], nil
}

// fakeFiles is an in-memory FileContexts.
type fakeFiles struct {
	mu sync.Mutex
	m  map[string]memory.FileContext
}

func newFakeFiles() *fakeFiles { return &fakeFiles{m: make(map[string]memory.FileContext)} }

func (f *fakeFiles) LoadFileContext(_ context.Context, id string) (*memory.FileContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.m[id]
	if !ok {
		return nil, nil
	}
	return &fc, nil
}

func (f *fakeFiles) SaveFileContext(_ context.Context, id string, fc *memory.FileContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[id] = *fc
	return nil
}

func TestDiscover_PathOrder(t *testing.T) {
	older := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	deals := []crm.Deal{{ID: "d1", Name: "ETG 2026"}}
	contacts := []crm.Contact{{ID: "p1", Name: "Dana"}}

	htmlBody := `<html><body><p>Budget is <a href="https://files.example.com/share/budget-v2.xlsx?dl=1">here</a>,
		see also <a href="https://example.com/about">our site</a> and <a href="mailto:x@example.com">mail</a>.</p></body></html>`

	tests := []struct {
		name      string
		crm       *fakeCRM
		wantPath  DiscoveryPath
		wantFirst string
		wantTried int
	}{
		{
			name: "link in html email wins",
			crm: &fakeCRM{
				emails: map[string][]crm.Email{"d1": {
					{ID: "e1", Date: older, Body: "old note, no links", Attachments: []crm.File{{ID: "a1", Name: "old.pdf"}}},
					{ID: "e2", Date: newer, Body: htmlBody},
				}},
				dealFiles: map[string][]crm.File{"d1": {{ID: "f1", Name: "deal.pdf"}}},
			},
			wantPath: PathEmailLink, wantFirst: "budget-v2.xlsx", wantTried: 1,
		},
		{
			name: "plain text link",
			crm: &fakeCRM{
				emails: map[string][]crm.Email{"d1": {
					{ID: "e1", Date: older, Body: "Signed form: https://docs.example.com/forms/Schedule-A.pdf. Thanks!"},
				}},
			},
			wantPath: PathEmailLink, wantFirst: "Schedule-A.pdf", wantTried: 1,
		},
		{
			name: "attachments when no links",
			crm: &fakeCRM{
				emails: map[string][]crm.Email{"d1": {
					{ID: "e1", Date: older, Body: "see https://example.com/about", Attachments: []crm.File{{ID: "a1", Name: "quote.pdf"}}},
				}},
				dealFiles: map[string][]crm.File{"d1": {{ID: "f1", Name: "deal.pdf"}}},
			},
			wantPath: PathEmailAttachment, wantFirst: "quote.pdf", wantTried: 2,
		},
		{
			name: "deal files",
			crm: &fakeCRM{
				dealFiles:    map[string][]crm.File{"d1": {{ID: "f1", Name: "deal.pdf"}}},
				contactFiles: map[string][]crm.File{"p1": {{ID: "c1", Name: "resume.pdf"}}},
			},
			wantPath: PathDealFiles, wantFirst: "deal.pdf", wantTried: 3,
		},
		{
			name: "contact files after deal error",
			crm: &fakeCRM{
				dealFilesErr: errors.New("crm timeout"),
				contactFiles: map[string][]crm.File{"p1": {{ID: "c1", Name: "resume.pdf"}}},
			},
			wantPath: PathContactFiles, wantFirst: "resume.pdf", wantTried: 4,
		},
		{
			name:      "nothing found",
			crm:       &fakeCRM{},
			wantTried: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Discover(context.Background(), tt.crm, deals, contacts, nil)
			if d.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", d.Path, tt.wantPath)
			}
			if len(d.Tried) != tt.wantTried {
				t.Errorf("Tried = %v, want %d paths", d.Tried, tt.wantTried)
			}
			if tt.wantFirst == "" {
				if len(d.Files) != 0 {
					t.Errorf("Files = %v, want none", d.Files)
				}
				return
			}
			if len(d.Files) == 0 || d.Files[0].Name != tt.wantFirst {
				t.Errorf("Files = %+v, want first %q", d.Files, tt.wantFirst)
			}
		})
	}
}

func TestLinkedFiles_Dedupes(t *testing.T) {
	emails := []crm.Email{
		{Body: "https://x.example.com/a.pdf and again https://x.example.com/a.pdf"},
		{Body: `<div><a href="https://x.example.com/a.pdf">a.pdf</a><a href="/rel/b.docx">Budget</a></div>`},
	}
	files := linkedFiles(emails)
	if len(files) != 2 {
		t.Fatalf("files = %+v, want 2", files)
	}
	if files[0].MimeType != "application/pdf" {
		t.Errorf("MimeType = %q", files[0].MimeType)
	}
	if files[1].Name != "b.docx" || files[1].URL != "/rel/b.docx" {
		t.Errorf("second file = %+v", files[1])
	}
}
