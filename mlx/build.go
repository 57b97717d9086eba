package mlx

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// BuildDocumentXML converts a cell list back into live script document XML.
// The output is semantically round-trip stable: parsing it yields an equal
// cell list.
func BuildDocumentXML(cells []Cell) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("w:document")
	root.CreateAttr("xmlns:w", nsWordML)
	root.CreateAttr("xmlns:mc", nsMarkupCompat)
	body := root.CreateElement("w:body")

	var prev CellKind
	for i, cell := range cells {
		if i > 0 && cell.Kind != prev {
			appendSectionBreak(body)
		}
		prev = cell.Kind

		switch cell.Kind {
		case CellCode:
			for _, line := range strings.Split(cell.Content, "\n") {
				appendCodeParagraph(body, line)
			}
		case CellMarkup:
			for _, line := range strings.Split(cell.Content, "\n") {
				appendMarkupParagraph(body, line)
			}
		default:
			return "", fmt.Errorf("unknown cell kind %q", cell.Kind)
		}
	}

	return doc.WriteToString()
}

// appendSectionBreak emits the structural separator paragraph the parser
// strips: a section break marker in the properties, no style, no runs.
func appendSectionBreak(body *etree.Element) {
	p := body.CreateElement("w:p")
	p.CreateElement("w:pPr").CreateElement("w:sectPr")
}

func appendStyledParagraph(body *etree.Element, style ParaStyle) *etree.Element {
	p := body.CreateElement("w:p")
	st := p.CreateElement("w:pPr").CreateElement("w:pStyle")
	st.CreateAttr("w:val", string(style))
	return p
}

// appendCodeParagraph emits one code-styled paragraph per source line. Code
// text goes out as raw character data so the source survives verbatim.
func appendCodeParagraph(body *etree.Element, line string) {
	p := appendStyledParagraph(body, StyleCode)
	t := p.CreateElement("w:r").CreateElement("w:t")
	t.CreateAttr("xml:space", "preserve")
	setRawText(t, line)
}

// appendMarkupParagraph emits one styled paragraph for a markup line. Blank
// lines become empty text paragraphs, heading prefixes select the style, the
// remainder is split into one run per inline token.
func appendMarkupParagraph(body *etree.Element, line string) {
	if strings.TrimSpace(line) == "" {
		appendStyledParagraph(body, StyleText)
		return
	}

	style, rest := styleForLine(line)
	p := appendStyledParagraph(body, style)
	for _, token := range tokenizeInline(rest) {
		r := p.CreateElement("w:r")
		if token.Bold || token.Italic {
			rPr := r.CreateElement("w:rPr")
			if token.Bold {
				rPr.CreateElement("w:b")
			}
			if token.Italic {
				u := rPr.CreateElement("w:u")
				u.CreateAttr("w:val", "single")
			}
		}
		t := r.CreateElement("w:t")
		t.CreateAttr("xml:space", "preserve")
		t.SetText(token.Content)
	}
}
