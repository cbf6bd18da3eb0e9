// Package htmlconv turns rendered message bodies into forms for surfaces
// that cannot show HTML: markdown for the terminal and plain text for
// notifications.
package htmlconv

import (
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/codefionn/slackline/internal/logger"
)

var multipleNewlines = regexp.MustCompile(`\n{3,}`)

// ToMarkdown converts a rendered body to markdown. If conversion fails the
// plain text form is returned.
func ToMarkdown(body string) string {
	if !strings.Contains(body, "<") && !strings.Contains(body, "&") {
		return body
	}

	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		logger.Warn("Failed to convert message body to markdown: %v", err)
		return ToPlainText(body)
	}
	return cleanMarkdown(markdown)
}

// cleanMarkdown removes excessive blank lines and surrounding whitespace.
func cleanMarkdown(markdown string) string {
	markdown = multipleNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// ToPlainText strips all markup from a rendered body. Line breaks survive,
// links keep their label, entities are decoded.
func ToPlainText(body string) string {
	nodes, err := html.ParseFragment(strings.NewReader(body), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		logger.Debug("Failed to parse message body: %v", err)
		return html.UnescapeString(body)
	}

	var b strings.Builder
	for _, n := range nodes {
		writeText(&b, n)
	}
	return strings.TrimSpace(multipleNewlines.ReplaceAllString(b.String(), "\n\n"))
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch strings.ToLower(n.Data) {
		case "br":
			b.WriteByte('\n')
			return
		case "script", "style":
			return
		case "p", "div", "blockquote", "pre":
			defer b.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// Truncate shortens s to at most max runes, marking the cut with an
// ellipsis. It prefers to cut at a space.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}

	runes := []rune(s)
	cut := string(runes[:max-1])
	if i := strings.LastIndexAny(cut, " \n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n") + "…"
}
