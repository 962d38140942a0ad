package wikipedia

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sydlexius/musicmap/internal/provider"
)

var (
	infoboxClassRe = regexp.MustCompile(`(?i)\binfobox\b`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// findInfobox returns the first <table> whose class list contains "infobox".
func findInfobox(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" && infoboxClassRe.MatchString(attr(n, "class")) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findInfobox(c); t != nil {
			return t
		}
	}
	return nil
}

// infoboxRows collects every row that has both a header and a data cell.
func infoboxRows(table *html.Node) []provider.InfoboxRow {
	var rows []provider.InfoboxRow
	walk(table, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return
		}
		th := firstElement(n, "th")
		if th == nil {
			return
		}
		td := firstElement(n, "td")
		if td == nil {
			return
		}
		rows = append(rows, provider.InfoboxRow{
			Label: labelText(th),
			Value: cellText(td),
		})
	})
	return rows
}

// labelText concatenates the header's text and collapses whitespace.
func labelText(n *html.Node) string {
	var b strings.Builder
	for _, frag := range textFragments(n) {
		b.WriteString(frag)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(b.String(), " "))
}

// cellText joins the cell's trimmed text fragments with single spaces.
// Line breaks inside a single text node are kept.
func cellText(n *html.Node) string {
	var parts []string
	for _, frag := range textFragments(n) {
		if s := strings.TrimSpace(frag); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func textFragments(n *html.Node) []string {
	var out []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "style" || n.Data == "script") {
			return
		}
		if n.Type == html.TextNode {
			out = append(out, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

// walk visits n and its descendants in document order.
func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// firstElement returns the first descendant element named tag.
func firstElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := firstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
