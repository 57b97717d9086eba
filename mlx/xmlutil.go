package mlx

import (
	"strings"

	"github.com/beevik/etree"
)

// Thin adapter over etree that isolates the rest of the package from XML
// library quirks: namespace prefixes, the several shapes a text node can take
// (plain character data, CDATA sections, xml:space preserved text) and the
// CDATA terminator escape used for raw code text.

const (
	nsWordML       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsMarkupCompat = "http://schemas.openxmlformats.org/markup-compatibility/2006"
)

// childByTag returns the first child element with the given local tag,
// ignoring the namespace prefix. Documents in the wild bind the
// WordprocessingML namespace to arbitrary prefixes.
func childByTag(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// childrenByTag returns all child elements with the given local tag in
// document order, ignoring the namespace prefix.
func childrenByTag(el *etree.Element, tag string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// attrValue returns the value of the first attribute with the given local
// key, ignoring the namespace prefix.
func attrValue(el *etree.Element, key string) string {
	for _, attr := range el.Attr {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// paragraphStyleName extracts the style name of a paragraph. The usual place
// is p/pPr/pStyle@val. Some authoring tools wrap paragraph properties in a
// markup compatibility container and keep the style on an inner properties
// node (p/AlternateContent/Fallback/pPr/pStyle), which is tried next. The
// second result is false when no style is present anywhere.
func paragraphStyleName(p *etree.Element) (string, bool) {
	if st := childByTag(childByTag(p, "pPr"), "pStyle"); st != nil {
		return attrValue(st, "val"), true
	}
	inner := childByTag(childByTag(childByTag(p, "AlternateContent"), "Fallback"), "pPr")
	if st := childByTag(inner, "pStyle"); st != nil {
		return attrValue(st, "val"), true
	}
	return "", false
}

// isSectionBreakOnly reports whether the paragraph is a pure structural
// separator: a section break marker in its properties, no style and no runs.
func isSectionBreakOnly(p *etree.Element) bool {
	pPr := childByTag(p, "pPr")
	if pPr == nil || childByTag(pPr, "sectPr") == nil {
		return false
	}
	if _, ok := paragraphStyleName(p); ok {
		return false
	}
	return childByTag(p, "r") == nil
}

// runText returns the text carried by a run, normalizing every shape the
// underlying parser produces: a plain text node, an xml:space preserved text
// node, or one or more CDATA sections (raw code text splits its CDATA at
// terminator collisions, concatenating the sections restores the original).
// A run without a text node contributes an empty string.
func runText(r *etree.Element) string {
	t := childByTag(r, "t")
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for _, node := range t.Child {
		if cd, ok := node.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return sb.String()
}

// runFlags reports bold and underline formatting of a run. The document
// format reuses underline as its italic signal.
func runFlags(r *etree.Element) (bold, underline bool) {
	rPr := childByTag(r, "rPr")
	if rPr == nil {
		return false, false
	}
	return childByTag(rPr, "b") != nil, childByTag(rPr, "u") != nil
}

const cdataEnd = "]]>"

// setRawText fills a text element with raw, uninterpreted character data.
// A literal "]]>" inside the data would terminate the CDATA section early, so
// the data is split across adjacent sections at every occurrence; runText
// reverses the split losslessly by concatenation.
func setRawText(t *etree.Element, data string) {
	for {
		i := strings.Index(data, cdataEnd)
		if i < 0 {
			t.CreateCData(data)
			return
		}
		t.CreateCData(data[:i+2]) // "]]"
		data = data[i+2:]         // ">" opens the next section
	}
}
