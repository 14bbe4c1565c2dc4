package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/grantdesk/internal/docstore"
	"github.com/nugget/grantdesk/internal/extract"
	"github.com/nugget/grantdesk/internal/fetch"
	"github.com/nugget/grantdesk/internal/memory"
)

// FileArgs are the arguments for get_file_content.
type FileArgs struct {
	Path     string `json:"path,omitempty" jsonschema_description:"Document store path, e.g. /Clients/Acme/budget.xlsx. Omit both path and url to read the file last referenced in this conversation."`
	URL      string `json:"url,omitempty" jsonschema_description:"Link to an externally hosted file."`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Maximum characters of text to return (default 50000)."`
}

// ListArgs are the arguments for list_documents.
type ListArgs struct {
	Folder string `json:"folder,omitempty" jsonschema_description:"Folder path to list (default: the root folder)."`
}

// CreateArgs are the arguments for create_document.
type CreateArgs struct {
	Title    string `json:"title" jsonschema_description:"Document title; also used for the file name."`
	Markdown string `json:"markdown" jsonschema_description:"Document body in markdown."`
	Folder   string `json:"folder,omitempty" jsonschema_description:"Subfolder under the output folder, e.g. the company name."`
}

type documentTools struct {
	docs      DocStore
	fetcher   URLFetcher
	files     FileContexts
	extractor extract.Extractor
	outputDir string
	logger    *slog.Logger
}

type fileContent struct {
	*fetch.Result
	Hints *extract.Hints `json:"hints,omitempty"`
}

func (t *documentTools) getContent(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[FileArgs](input)
	if err != nil {
		return "", err
	}
	convID := ConversationIDFromContext(ctx)

	fc := &memory.FileContext{Path: args.Path, URL: args.URL}
	if args.Path == "" && args.URL == "" {
		prev, err := t.currentFile(ctx, convID)
		if err != nil {
			return "", err
		}
		fc = prev
	}

	var res *fetch.Result
	switch {
	case fc.Path != "":
		if t.docs == nil {
			return "", errors.New("document store is not configured")
		}
		data, entry, err := t.docs.ReadFile(ctx, fc.Path, docstore.DefaultMaxBytes)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", fc.Path, err)
		}
		if fc.MimeType == "" {
			fc.MimeType = entry.MimeType
		}
		res = fetch.Text(entry.Path, fc.MimeType, data, args.MaxChars)
	case fc.URL != "":
		if t.fetcher == nil {
			return "", errors.New("fetching external files is not configured")
		}
		res, err = t.fetcher.Fetch(ctx, fc.URL, args.MaxChars)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", fc.URL, err)
		}
		if fc.MimeType == "" {
			fc.MimeType = res.ContentType
		}
	default:
		return "", errors.New("the referenced file has neither a path nor a url")
	}

	out := fileContent{Result: res}
	if !res.Binary {
		if h := t.extractor.Extract(res.Content); !h.Empty() {
			out.Hints = &h
		}
	}

	if fc.FileName == "" {
		fc.FileName = path.Base(strings.SplitN(res.Source, "?", 2)[0])
	}
	if fc.Source == "" {
		fc.Source = "direct"
	}
	fc.UpdatedAt = time.Time{} // stamped on save
	t.saveFile(ctx, convID, fc)

	return toJSON(out), nil
}

// currentFile returns the conversation's file context or an error the
// model can act on.
func (t *documentTools) currentFile(ctx context.Context, convID string) (*memory.FileContext, error) {
	if t.files == nil || convID == "" {
		return nil, errors.New("path or url is required")
	}
	fc, err := t.files.LoadFileContext(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load file context: %w", err)
	}
	if fc == nil {
		return nil, errors.New("no file has been referenced in this conversation yet; pass a path or url")
	}
	return fc, nil
}

func (t *documentTools) saveFile(ctx context.Context, convID string, fc *memory.FileContext) {
	if t.files == nil || convID == "" {
		return
	}
	if err := t.files.SaveFileContext(ctx, convID, fc); err != nil {
		t.logger.Warn("file context not saved", "conversation_id", convID, "error", err)
	}
}

func (t *documentTools) list(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[ListArgs](input)
	if err != nil {
		return "", err
	}
	folder := args.Folder
	if folder == "" {
		folder = "/"
	}

	entries, err := t.docs.List(ctx, folder)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", folder, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Folder %s is empty", folder), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d entries in %s:\n", len(entries), folder)
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&sb, "- %s/ (folder)\n", e.Path)
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s, %d bytes, modified %s)\n",
			e.Path, e.MimeType, e.Size, e.ModTime.Format("2006-01-02"))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func (t *documentTools) create(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decode[CreateArgs](input)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", errors.New("title is required")
	}
	if strings.TrimSpace(args.Markdown) == "" {
		return "", errors.New("markdown is required")
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(args.Markdown), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	doc := renderHTML(args.Title, body.String())

	name := path.Join("/", t.outputDir, slug(args.Folder), documentName(args.Title))
	entry, err := t.docs.WriteFile(ctx, name, []byte(doc))
	if err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}

	t.saveFile(ctx, ConversationIDFromContext(ctx), &memory.FileContext{
		FileName: entry.Name,
		Path:     entry.Path,
		MimeType: "text/html",
		Source:   "created",
	})
	return toJSON(map[string]any{
		"created": true,
		"path":    entry.Path,
		"name":    entry.Name,
		"bytes":   len(doc),
	}), nil
}

func renderHTML(title, body string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	sb.WriteString(html.EscapeString(title))
	sb.WriteString("</title>\n</head>\n<body>\n<h1>")
	sb.WriteString(html.EscapeString(title))
	sb.WriteString("</h1>\n")
	sb.WriteString(body)
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

var nonSlug = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// slug turns s into a file-name-safe segment.
func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.TrimSpace(s), "-"), "-")
}

func documentName(title string) string {
	if s := slug(title); s != "" {
		return s + ".html"
	}
	return "document.html"
}
