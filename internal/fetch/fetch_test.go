package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/grantdesk/internal/httpkit"
)

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Budget Notes</title></head>
<body>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<h1>Project budget</h1>
<p>Total eligible costs are <strong>$48,000</strong>.</p>
<p>Second paragraph.</p>
</body>
</html>`

	title, content := extractHTML(html)

	if title != "Budget Notes" {
		t.Errorf("title = %q, want Budget Notes", title)
	}
	for _, want := range []string{"Project budget", "$48,000", "Second paragraph."} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
	if strings.Contains(content, "var x = 1") || strings.Contains(content, "color: red") {
		t.Error("content should not contain script or style text")
	}
	if HTMLText(html) != content {
		t.Error("HTMLText should return the extracted content")
	}
}

func TestLinks(t *testing.T) {
	body := `<div>Hi Jo,<br>
The final plan is <a href="https://files.example.com/Clients/Acme/plan.docx">here</a>
and the <a href="/Clients/Acme/budget.xlsx"> budget </a>.
<a href="#top">top</a> <a href="mailto:jo@example.com">Jo</a> <a>nothing</a></div>`

	links := Links(body)
	if len(links) != 2 {
		t.Fatalf("Links() = %+v, want 2 links", links)
	}
	if links[0].Href != "https://files.example.com/Clients/Acme/plan.docx" || links[0].Text != "here" {
		t.Errorf("first link = %+v", links[0])
	}
	if links[1].Href != "/Clients/Acme/budget.xlsx" || links[1].Text != "budget" {
		t.Errorf("second link = %+v", links[1])
	}
}

func TestParse(t *testing.T) {
	doc := Parse(`<html><head><title> Intake </title><script>track()</script></head>
<body><ul><li>Budget: <a href="budget.xlsx">sheet</a></li><li>Plan</li></ul>
<noscript><a href="hidden.pdf">hidden</a></noscript></body></html>`)

	if doc.Title != "Intake" {
		t.Errorf("Title = %q", doc.Title)
	}
	if !strings.Contains(doc.Text, "Budget: sheet\n") || !strings.Contains(doc.Text, "Plan") {
		t.Errorf("Text = %q", doc.Text)
	}
	if strings.Contains(doc.Text, "track()") || strings.Contains(doc.Text, "hidden") {
		t.Errorf("Text includes hidden content: %q", doc.Text)
	}
	if len(doc.Links) != 1 || doc.Links[0].Href != "budget.xlsx" {
		t.Errorf("Links = %+v", doc.Links)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<html><body>x</body></html>", true},
		{"<p>Hello</p>", true},
		{"See <a href=\"x\">this</a>", true},
		{"plain text with a < sign", false},
	}
	for _, tt := range tests {
		if got := LooksLikeHTML(tt.in); got != tt.want {
			t.Errorf("LooksLikeHTML(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "grantdesk/") {
			t.Errorf("User-Agent = %q, want grantdesk/ prefix", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Plan</title></head><body><p>Training starts in May.</p></body></html>`))
	}))
	defer ts.Close()

	result, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Title != "Plan" || !strings.Contains(result.Content, "Training starts in May.") {
		t.Errorf("result = %+v", result)
	}
	if result.Source != ts.URL {
		t.Errorf("Source = %q, want %q", result.Source, ts.URL)
	}
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := New().Fetch(context.Background(), ts.URL, 0)
	var se *httpkit.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Errorf("Fetch error = %v, want 404 StatusError", err)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		maxChars    int
		wantContent string
		wantTrunc   bool
		wantBinary  bool
	}{
		{name: "plain", contentType: "text/plain", body: []byte("hello"), wantContent: "hello"},
		{name: "markdown", contentType: "text/markdown", body: []byte("# Title"), wantContent: "# Title"},
		{name: "unknown utf8", contentType: "application/octet-stream", body: []byte("ok"), wantContent: "ok"},
		{name: "truncated", contentType: "text/plain", body: []byte("Québec city"), maxChars: 6, wantContent: "Québec", wantTrunc: true},
		{name: "binary", contentType: "application/pdf", body: []byte{0xff, 0xfe, 0x00}, wantBinary: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text("doc", tt.contentType, tt.body, tt.maxChars)
			if got.Binary != tt.wantBinary {
				t.Fatalf("Binary = %v, want %v", got.Binary, tt.wantBinary)
			}
			if tt.wantBinary {
				return
			}
			if got.Content != tt.wantContent || got.Truncated != tt.wantTrunc {
				t.Errorf("Text() = %q (truncated %v), want %q (%v)", got.Content, got.Truncated, tt.wantContent, tt.wantTrunc)
			}
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	if got := truncateUTF8("héllo wörld", 5); got != "héllo" {
		t.Errorf("truncateUTF8 = %q, want héllo", got)
	}
	if got := truncateUTF8("short", 10); got != "short" {
		t.Errorf("truncateUTF8 = %q, want short", got)
	}
}
