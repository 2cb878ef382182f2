package websearch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxContentChars = 2000
	minContentChars = 100
)

var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Noscript: true,
}

var contentClasses = []string{"content", "main-content", "post-content", "entry-content"}

// extract fetches url and returns its main text, or "" when the page has too
// little text to be useful.
func (c *Client) extract(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", nil
	}
	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	return ExtractText(body)
}

// ExtractText picks the main content node of an HTML page and flattens it to
// whitespace-normalized text.
func ExtractText(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html failed: %w", err)
	}

	root := mainNode(doc)
	if root == nil {
		return "", nil
	}
	var sb strings.Builder
	collectText(root, &sb)

	text := strings.Join(strings.Fields(sb.String()), " ")
	if r := []rune(text); len(r) > maxContentChars {
		text = string(r[:maxContentChars]) + "..."
	}
	if len([]rune(text)) <= minContentChars {
		return "", nil
	}
	return text, nil
}

// mainNode prefers article, role=main, main, then well-known content
// containers, then body.
func mainNode(doc *html.Node) *html.Node {
	matchers := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.Article },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
		func(n *html.Node) bool {
			for _, cls := range strings.Fields(attr(n, "class")) {
				for _, want := range contentClasses {
					if cls == want {
						return true
					}
				}
			}
			return attr(n, "id") == "content"
		},
		func(n *html.Node) bool { return n.DataAtom == atom.Main },
		func(n *html.Node) bool { return n.DataAtom == atom.Body },
	}
	for _, m := range matchers {
		if n := find(doc, m); n != nil {
			return n
		}
	}
	return nil
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode {
		if dropped[n.DataAtom] {
			return nil
		}
		if match(n) {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && dropped[n.DataAtom] {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func attr(n *html.Node, key string) string {
	if n.Type != html.ElementNode {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
