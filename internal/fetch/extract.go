package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden elements contribute neither text nor links.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// blocks are rendered as separate paragraphs.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dd: true, atom.Dt: true, atom.Figure: true,
	atom.Figcaption: true, atom.Details: true, atom.Summary: true, atom.Hr: true,
}

// Link is an anchor found in an HTML document.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Document is the readable content of an HTML page.
type Document struct {
	Title string
	Text  string
	Links []Link
}

// Parse reads an HTML document in a single pass. Anchors without an
// href, and fragment or mailto links, are left out of Links.
func Parse(raw string) Document {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Document{Text: cleanWhitespace(raw)}
	}
	var p pageWalker
	p.walk(root)
	return Document{
		Title: strings.TrimSpace(p.title),
		Text:  cleanWhitespace(p.text.String()),
		Links: p.links,
	}
}

// HTMLText returns the readable text of an HTML document.
func HTMLText(raw string) string {
	return Parse(raw).Text
}

// Links returns the anchors in raw in document order.
func Links(raw string) []Link {
	return Parse(raw).Links
}

// extractHTML returns the title and readable text of raw.
func extractHTML(raw string) (title, text string) {
	doc := Parse(raw)
	return doc.Title, doc.Text
}

type pageWalker struct {
	title     string
	haveTitle bool
	text      strings.Builder
	links     []Link
}

func (p *pageWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			p.text.WriteString(s)
			p.text.WriteByte(' ')
		}
		return
	case html.ElementNode:
		switch {
		case hidden[n.DataAtom]:
			return
		case n.DataAtom == atom.Head:
			// Only the title is wanted from <head>.
			p.findTitle(n)
			return
		case n.DataAtom == atom.Title:
			p.findTitle(n)
			return
		case n.DataAtom == atom.A:
			p.addLink(n)
		case blocks[n.DataAtom] && p.text.Len() > 0:
			p.text.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		p.text.WriteByte('\n')
	}
}

func (p *pageWalker) findTitle(n *html.Node) {
	if p.haveTitle {
		return
	}
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		p.title = textOf(n)
		p.haveTitle = true
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.findTitle(c)
	}
}

func (p *pageWalker) addLink(n *html.Node) {
	for _, attr := range n.Attr {
		if attr.Key != "href" {
			continue
		}
		href := strings.TrimSpace(attr.Val)
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(lower, "mailto:") {
			return
		}
		p.links = append(p.links, Link{Href: href, Text: cleanWhitespace(textOf(n))})
		return
	}
}

// textOf concatenates the text beneath n.
func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// cleanWhitespace collapses spaces within lines and drops repeated
// blank lines.
func cleanWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && blank {
			continue
		}
		blank = line == ""
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// LooksLikeHTML reports whether s appears to be HTML markup rather than
// plain text.
func LooksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 512 {
		head = head[:512]
	}
	for _, marker := range []string{"<html", "<body", "<p", "<div", "<a "} {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}
