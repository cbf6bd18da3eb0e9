package wire

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Resolver looks up display names for inline references. The sync engine
// provides one backed by its current model; a nil Resolver falls back to
// the labels embedded in the markup, then to raw ids.
type Resolver interface {
	UserName(id string) (string, bool)
	ChannelName(id string) (string, bool)
}

// Rendered is a message body converted to HTML.
type Rendered struct {
	Body string
	// Mentions holds the user ids referenced by <@...> in source order,
	// without duplicates.
	Mentions []string
}

// inlineStyles are applied in order to text outside of references.
var inlineStyles = []struct {
	delim byte
	open  string
	close string
}{
	{'*', "<b>", "</b>"},
	{'_', "<i>", "</i>"},
	{'~', "<s>", "</s>"},
}

// Render converts message markup to the HTML body shown to the user.
func Render(text string, resolver Resolver) Rendered {
	var out Rendered
	seen := make(map[string]bool)

	// References are replaced by placeholders so their contents (urls in
	// particular) are not touched by inline styling.
	var refs []string
	var b strings.Builder
	rest := text
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '>')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		token := rest[start+1 : start+end]
		rendered, mention := renderReference(token, resolver)
		if mention != "" && !seen[mention] {
			seen[mention] = true
			out.Mentions = append(out.Mentions, mention)
		}
		fmt.Fprintf(&b, "\x00%d\x00", len(refs))
		refs = append(refs, rendered)
		rest = rest[start+end+1:]
	}

	body := renderInline(normalizeEntities(b.String()))
	for i, ref := range refs {
		body = strings.Replace(body, fmt.Sprintf("\x00%d\x00", i), ref, 1)
	}
	out.Body = strings.ReplaceAll(body, "\n", "<br/>")
	return out
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// normalizeEntities decodes the escapes the server applies to &, < and >
// and re-encodes the result for HTML.
func normalizeEntities(s string) string {
	return escaper.Replace(html.UnescapeString(s))
}

func renderReference(token string, resolver Resolver) (string, string) {
	target, label, _ := strings.Cut(token, "|")
	label = normalizeEntities(label)

	switch {
	case strings.HasPrefix(target, "@"):
		id := target[1:]
		name := label
		if resolver != nil {
			if resolved, ok := resolver.UserName(id); ok && resolved != "" {
				name = escaper.Replace(resolved)
			}
		}
		if name == "" {
			name = id
		}
		return "@" + strings.TrimPrefix(name, "@"), id

	case strings.HasPrefix(target, "#"):
		id := target[1:]
		name := label
		if name == "" && resolver != nil {
			if resolved, ok := resolver.ChannelName(id); ok {
				name = escaper.Replace(resolved)
			}
		}
		if name == "" {
			name = id
		}
		return "#" + strings.TrimPrefix(name, "#"), ""

	case strings.HasPrefix(target, "!"):
		command := target[1:]
		switch command {
		case "here", "channel", "everyone":
			return "@" + command, ""
		}
		if label != "" {
			return label, ""
		}
		if kind, _, ok := strings.Cut(command, "^"); ok {
			return "@" + kind, ""
		}
		return "@" + command, ""

	default:
		raw := html.UnescapeString(target)
		if label == "" {
			label = escaper.Replace(strings.TrimPrefix(raw, "mailto:"))
		}
		// EscapeString also covers quotes, so the url stays inside the
		// attribute.
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(raw), label), ""
	}
}

// renderInline applies code spans, then bold, italic and strike styles.
// Code span contents are left unstyled.
func renderInline(s string) string {
	parts := strings.Split(s, "`")
	// An even number of parts means an unmatched backtick; keep it literal.
	if len(parts)%2 == 0 {
		last := len(parts) - 1
		parts[last-1] = parts[last-1] + "`" + parts[last]
		parts = parts[:last]
	}
	var b strings.Builder
	for i, part := range parts {
		if i%2 == 1 {
			if part == "" {
				b.WriteString("``")
				continue
			}
			b.WriteString("<code>" + part + "</code>")
			continue
		}
		for _, style := range inlineStyles {
			part = wrapDelimited(part, style.delim, style.open, style.close)
		}
		b.WriteString(part)
	}
	return b.String()
}

// wrapDelimited replaces delim-enclosed spans by open/close tags. A span
// opens after a non-word rune or at the start, closes before a non-word
// rune or at the end, does not cross a line and does not start or end with
// a space.
func wrapDelimited(s string, delim byte, open, close string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != delim || !boundaryBefore(s, i) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := findClosing(s, i+1, delim)
		if j < 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteString(open)
		b.WriteString(s[i+1 : j])
		b.WriteString(close)
		i = j + 1
	}
	return b.String()
}

func findClosing(s string, from int, delim byte) int {
	if from >= len(s) || s[from] == ' ' || s[from] == delim {
		return -1
	}
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return -1
		case delim:
			if s[j-1] != ' ' && boundaryAfter(s, j+1) {
				return j
			}
		}
	}
	return -1
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
