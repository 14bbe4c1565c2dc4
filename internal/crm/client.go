// Package crm provides a read-only client for the CRM REST API that
// holds companies, deals, contacts, correspondence, and filed documents.
package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/grantdesk/internal/httpkit"
)

// Company is a CRM company record.
type Company struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Industry string `json:"industry,omitempty"`
	City     string `json:"city,omitempty"`
}

// Deal is a funding application or engagement filed against a company.
type Deal struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Stage   string  `json:"stage,omitempty"`
	Program string  `json:"program,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
}

// Contact is a person associated with a company.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Title string `json:"title,omitempty"`
}

// File is a document reference. Path is the document-store path when
// the file lives there; URL is set for externally hosted files.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Email is one piece of logged correspondence.
type Email struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"` // plain text or HTML
	Date        time.Time `json:"date"`
	Attachments []File    `json:"attachments,omitempty"`
}

// ErrNotFound is returned when the CRM has no record for an id.
var ErrNotFound = errors.New("crm: not found")

// Client is a CRM REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new CRM client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:     logger,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	err := httpkit.GetJSON(ctx, c.httpClient, c.baseURL+path, header, out)
	c.logger.Debug("crm request", "path", path, "elapsed", time.Since(start), "error", err)

	var se *httpkit.StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("crm %s: %w", path, err)
	}
	return nil
}

// ListCompanies returns all companies in CRM order.
func (c *Client) ListCompanies(ctx context.Context) ([]Company, error) {
	var out []Company
	if err := c.get(ctx, "/companies", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCompany returns one company.
func (c *Client) GetCompany(ctx context.Context, id string) (*Company, error) {
	var out Company
	if err := c.get(ctx, "/companies/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DealsForCompany returns the company's deals.
func (c *Client) DealsForCompany(ctx context.Context, companyID string) ([]Deal, error) {
	var out []Deal
	if err := c.get(ctx, "/companies/"+url.PathEscape(companyID)+"/deals", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContactsForCompany returns the company's contacts.
func (c *Client) ContactsForCompany(ctx context.Context, companyID string) ([]Contact, error) {
	var out []Contact
	if err := c.get(ctx, "/companies/"+url.PathEscape(companyID)+"/contacts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmailsForDeal returns the deal's correspondence, most recent first.
func (c *Client) EmailsForDeal(ctx context.Context, dealID string) ([]Email, error) {
	var out []Email
	if err := c.get(ctx, "/deals/"+url.PathEscape(dealID)+"/emails", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FilesForDeal returns documents filed on the deal.
func (c *Client) FilesForDeal(ctx context.Context, dealID string) ([]File, error) {
	var out []File
	if err := c.get(ctx, "/deals/"+url.PathEscape(dealID)+"/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FilesForContact returns documents filed on the contact.
func (c *Client) FilesForContact(ctx context.Context, contactID string) ([]File, error) {
	var out []File
	if err := c.get(ctx, "/contacts/"+url.PathEscape(contactID)+"/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}
