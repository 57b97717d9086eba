package mlx

import "strings"

// Inline markdown handling shared by the parser and the builder. Only the
// formatting the document format can express survives: bold spans, italic
// spans (underline on the wire) and plain text.

type inlineToken struct {
	Content string
	Bold    bool
	Italic  bool
}

// tokenizeInline splits one markup line into an ordered token list. Matching
// priority at every position: a non-greedy "**...**" bold span, a non-greedy
// "*...*" italic span, then a maximal run of characters without '*'. An
// asterisk with no matching closer is kept as plain text. Lines where nothing
// matches (including the empty line) produce a single plain token.
func tokenizeInline(line string) []inlineToken {
	var (
		tokens []inlineToken
		plain  strings.Builder
	)
	flush := func() {
		if plain.Len() > 0 {
			tokens = append(tokens, inlineToken{Content: plain.String()})
			plain.Reset()
		}
	}

	for i := 0; i < len(line); {
		if strings.HasPrefix(line[i:], "**") {
			if end := strings.Index(line[i+2:], "**"); end >= 1 {
				flush()
				tokens = append(tokens, inlineToken{Content: line[i+2 : i+2+end], Bold: true})
				i += end + 4
				continue
			}
		}
		if line[i] == '*' {
			if end := strings.IndexByte(line[i+1:], '*'); end >= 1 {
				flush()
				tokens = append(tokens, inlineToken{Content: line[i+1 : i+1+end], Italic: true})
				i += end + 2
				continue
			}
			// unterminated marker, keep it literally
			plain.WriteByte('*')
			i++
			continue
		}
		j := strings.IndexByte(line[i:], '*')
		if j < 0 {
			j = len(line) - i
		}
		plain.WriteString(line[i : i+j])
		i += j
	}
	flush()

	if len(tokens) == 0 {
		return []inlineToken{{Content: line}}
	}
	return tokens
}

// markdownWrap renders run text back into markdown markers. Bold is applied
// first, italic wraps the bold result, mirroring how the builder nests them.
func markdownWrap(text string, bold, italic bool) string {
	if bold {
		text = "**" + text + "**"
	}
	if italic {
		text = "*" + text + "*"
	}
	return text
}
