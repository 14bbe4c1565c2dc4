package tools

import (
	"context"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/nugget/grantdesk/internal/crm"
	"github.com/nugget/grantdesk/internal/fetch"
)

// DiscoveryPath names the source a document was found through.
type DiscoveryPath string

const (
	PathEmailLink       DiscoveryPath = "email_link"
	PathEmailAttachment DiscoveryPath = "email_attachment"
	PathDealFiles       DiscoveryPath = "deal_files"
	PathContactFiles    DiscoveryPath = "contact_files"
)

// recentEmails caps how much correspondence discovery scans per deal.
const recentEmails = 10

// Discovery is the outcome of document discovery. Path is empty when
// nothing was found; Tried lists every path attempted, in order.
type Discovery struct {
	Path  DiscoveryPath   `json:"path,omitempty"`
	Files []crm.File      `json:"files"`
	Tried []DiscoveryPath `json:"tried"`
}

var documentExts = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".csv": true, ".ppt": true, ".pptx": true, ".txt": true, ".md": true,
	".odt": true, ".ods": true, ".rtf": true,
}

// plainURL finds links in plain-text bodies.
var plainURL = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Discover looks for a company's documents through, in order: file
// links in recent correspondence, correspondence attachments, files on
// the deals, and files on the contacts. The first path that yields any
// file wins. CRM errors on one path are logged and the next path is
// tried.
func Discover(ctx context.Context, c CRM, deals []crm.Deal, contacts []crm.Contact, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{Files: []crm.File{}}

	var emails []crm.Email
	for _, deal := range deals {
		got, err := c.EmailsForDeal(ctx, deal.ID)
		if err != nil {
			logger.Warn("discovery: emails unavailable", "deal", deal.ID, "error", err)
			continue
		}
		emails = append(emails, got...)
	}
	sort.SliceStable(emails, func(i, j int) bool { return emails[i].Date.After(emails[j].Date) })
	if limit := recentEmails * max(len(deals), 1); len(emails) > limit {
		emails = emails[:limit]
	}

	steps := []struct {
		path DiscoveryPath
		find func() []crm.File
	}{
		{PathEmailLink, func() []crm.File { return linkedFiles(emails) }},
		{PathEmailAttachment, func() []crm.File {
			var files []crm.File
			for _, e := range emails {
				files = append(files, e.Attachments...)
			}
			return files
		}},
		{PathDealFiles, func() []crm.File {
			var files []crm.File
			for _, deal := range deals {
				got, err := c.FilesForDeal(ctx, deal.ID)
				if err != nil {
					logger.Warn("discovery: deal files unavailable", "deal", deal.ID, "error", err)
					continue
				}
				files = append(files, got...)
			}
			return files
		}},
		{PathContactFiles, func() []crm.File {
			var files []crm.File
			for _, contact := range contacts {
				got, err := c.FilesForContact(ctx, contact.ID)
				if err != nil {
					logger.Warn("discovery: contact files unavailable", "contact", contact.ID, "error", err)
					continue
				}
				files = append(files, got...)
			}
			return files
		}},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		d.Tried = append(d.Tried, step.path)
		if files := step.find(); len(files) > 0 {
			d.Path = step.path
			d.Files = files
			logger.Debug("documents discovered", "path", step.path, "count", len(files))
			return d
		}
	}
	return d
}

// linkedFiles extracts document links from correspondence bodies, most
// recent email first, without duplicates.
func linkedFiles(emails []crm.Email) []crm.File {
	seen := make(map[string]bool)
	var files []crm.File
	add := func(href, text string) {
		if seen[href] || !(isDocumentRef(href) || isDocumentRef(text)) {
			return
		}
		seen[href] = true
		name := text
		if !isDocumentRef(name) {
			name = path.Base(strings.SplitN(href, "?", 2)[0])
		}
		files = append(files, crm.File{
			Name:     name,
			URL:      href,
			MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(name))),
		})
	}

	for _, e := range emails {
		if fetch.LooksLikeHTML(e.Body) {
			for _, l := range fetch.Links(e.Body) {
				add(l.Href, l.Text)
			}
			continue
		}
		for _, u := range plainURL.FindAllString(e.Body, -1) {
			add(strings.TrimRight(u, ".,;:"), "")
		}
	}
	return files
}

// isDocumentRef reports whether s names a file with a document
// extension, ignoring any query string.
func isDocumentRef(s string) bool {
	s = strings.SplitN(strings.TrimSpace(s), "?", 2)[0]
	return documentExts[strings.ToLower(path.Ext(s))]
}
