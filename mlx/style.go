package mlx

import "strings"

// ParaStyle is the closed set of paragraph style names the document format
// uses. The string values are exactly the w:pStyle w:val attribute values.
type ParaStyle string

const (
	StyleTitle    ParaStyle = "title"
	StyleHeading  ParaStyle = "heading"
	StyleHeading2 ParaStyle = "heading2"
	StyleText     ParaStyle = "text"
	StyleCode     ParaStyle = "code"
)

// Single source of truth for the style <-> markdown prefix association so the
// parser and the builder cannot drift apart. Order matters when matching
// prefixes: longer prefixes must be tried first.
var prefixedStyles = []struct {
	style  ParaStyle
	prefix string
}{
	{StyleHeading2, "### "},
	{StyleHeading, "## "},
	{StyleTitle, "# "},
}

// MarkdownPrefix returns the markdown heading prefix for the style. Text and
// code have none.
func (s ParaStyle) MarkdownPrefix() string {
	for _, m := range prefixedStyles {
		if m.style == s {
			return m.prefix
		}
	}
	return ""
}

// styleForLine determines the paragraph style of a markup line from its
// heading prefix and returns the line with the prefix stripped.
func styleForLine(line string) (ParaStyle, string) {
	for _, m := range prefixedStyles {
		if strings.HasPrefix(line, m.prefix) {
			return m.style, line[len(m.prefix):]
		}
	}
	return StyleText, line
}

// parseStyleName maps a w:pStyle value to a ParaStyle. Unknown names fall
// back to text so foreign documents still parse.
func parseStyleName(name string) ParaStyle {
	switch ParaStyle(name) {
	case StyleTitle, StyleHeading, StyleHeading2, StyleText, StyleCode:
		return ParaStyle(name)
	default:
		return StyleText
	}
}
