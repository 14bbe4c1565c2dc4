// Package docstore reads and writes client documents on a WebDAV
// document store.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-webdav"

	"github.com/nugget/grantdesk/internal/httpkit"
)

// DefaultMaxBytes caps how much of a file ReadFile returns.
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// ErrIsDir is returned when a file operation targets a folder.
var ErrIsDir = errors.New("docstore: path is a folder")

// Entry describes one file or folder.
type Entry struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size,omitempty"`
	ModTime  time.Time `json:"mod_time,omitempty"`
	IsDir    bool      `json:"is_dir,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// Client is a WebDAV document store client.
type Client struct {
	dav    *webdav.Client
	logger *slog.Logger
}

// New creates a client for the WebDAV endpoint. Empty credentials
// disable basic auth.
func New(endpoint, username, password string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var hc webdav.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(60 * time.Second))
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, username, password)
	}
	dav, err := webdav.NewClient(hc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("webdav client: %w", err)
	}
	return &Client{dav: dav, logger: logger}, nil
}

// Stat describes one path.
func (c *Client) Stat(ctx context.Context, name string) (*Entry, error) {
	fi, err := c.dav.Stat(ctx, clean(name))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	e := toEntry(*fi)
	return &e, nil
}

// List returns the folder's direct children, folders first, then by
// name.
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = clean(dir)
	infos, err := c.dav.ReadDir(ctx, dir, false)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if clean(fi.Path) == dir {
			continue // the folder itself
		}
		entries = append(entries, toEntry(fi))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// ReadFile returns up to limit bytes of the file (DefaultMaxBytes when
// limit is zero) and its metadata.
func (c *Client) ReadFile(ctx context.Context, name string, limit int64) ([]byte, *Entry, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	entry, err := c.Stat(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if entry.IsDir {
		return nil, entry, fmt.Errorf("read %s: %w", name, ErrIsDir)
	}

	rc, err := c.dav.Open(ctx, clean(name))
	if err != nil {
		return nil, entry, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, entry, fmt.Errorf("read %s: %w", name, err)
	}
	c.logger.Debug("document read", "path", entry.Path, "bytes", len(data))
	return data, entry, nil
}

// WriteFile creates or replaces a file, creating missing parent
// folders.
func (c *Client) WriteFile(ctx context.Context, name string, data []byte) (*Entry, error) {
	name = clean(name)
	if err := c.mkdirAll(ctx, path.Dir(name)); err != nil {
		return nil, err
	}

	wc, err := c.dav.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	c.logger.Info("document written", "path", name, "bytes", len(data))
	return c.Stat(ctx, name)
}

func (c *Client) mkdirAll(ctx context.Context, dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}
	if _, err := c.dav.Stat(ctx, dir); err == nil {
		return nil
	}
	if err := c.mkdirAll(ctx, path.Dir(dir)); err != nil {
		return err
	}
	if err := c.dav.Mkdir(ctx, dir); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func toEntry(fi webdav.FileInfo) Entry {
	p := clean(fi.Path)
	mt := fi.MIMEType
	if mt == "" && !fi.IsDir {
		mt = mime.TypeByExtension(path.Ext(p))
	}
	return Entry{
		Path:     p,
		Name:     path.Base(p),
		Size:     fi.Size,
		ModTime:  fi.ModTime,
		IsDir:    fi.IsDir,
		MimeType: mt,
	}
}

// clean normalizes a store path to a rooted, slash-separated form
// without a trailing slash.
func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimSpace(p))
}
