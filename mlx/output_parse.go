package mlx

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// ParseOutputXML converts output metadata XML into a region map. Parsing is
// best effort by contract: any structural failure degrades to an empty map so
// a damaged output stream can never fail the document parse. Callers treat an
// empty map as "no cached outputs".
func ParseOutputXML(data string, log *zap.Logger) RegionMap {
	regions := make(RegionMap)
	if strings.TrimSpace(data) == "" {
		return regions
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		if log != nil {
			log.Warn("Unable to parse output metadata, ignoring cached outputs", zap.Error(err))
		}
		return regions
	}
	root := doc.Root()
	if root == nil {
		return regions
	}

	elements := childrenByTag(childByTag(root, "outputArray"), "element")
	bundles := make([]outputElement, 0, len(elements))
	for _, el := range elements {
		bundles = append(bundles, parseOutputElement(el))
	}

	for idx, region := range childrenByTag(childByTag(root, "regionArray"), "region") {
		var bundle OutputBundle
		for _, ref := range regionRefs(region, len(bundles)) {
			switch e := bundles[ref]; e.kind {
			case "figure":
				bundle.Figures = append(bundle.Figures, Figure{Data: e.figureURI})
			case "text":
				bundle.Text = append(bundle.Text, e.text)
			default:
				bundle.Variables = append(bundle.Variables, e.variable)
			}
		}
		if !bundle.Empty() {
			regions[idx] = bundle
		}
	}
	return regions
}

type outputElement struct {
	kind      string
	variable  Output
	figureURI string
	text      string
}

func parseOutputElement(el *etree.Element) outputElement {
	out := outputElement{kind: attrValue(el, "type")}
	switch out.kind {
	case "figure":
		out.figureURI = elementText(childByTag(el, "figureUri"))
	case "text":
		out.text = elementText(childByTag(el, "text"))
	default:
		out.kind = "variable"
		if data := childByTag(el, "outputData"); data != nil {
			out.variable = Output{
				Type:    orDefault(elementText(childByTag(data, "type")), "variable"),
				Name:    elementText(childByTag(data, "name")),
				Value:   elementText(childByTag(data, "value")),
				Rows:    atoiOrZero(elementText(childByTag(data, "rows"))),
				Columns: atoiOrZero(elementText(childByTag(data, "columns"))),
			}
		}
	}
	return out
}

// regionRefs normalizes the element index list of a region. A single index
// may be encoded as bare text of the outputIndices node, multiple indices as
// index children. Values that do not parse or fall outside the element array
// are discarded.
func regionRefs(region *etree.Element, count int) []int {
	indices := childByTag(region, "outputIndices")
	if indices == nil {
		return nil
	}

	var raw []string
	if children := childrenByTag(indices, "index"); len(children) > 0 {
		for _, child := range children {
			raw = append(raw, elementText(child))
		}
	} else {
		raw = strings.Fields(elementText(indices))
	}

	var refs []int
	for _, s := range raw {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || v < 0 || v >= count {
			continue
		}
		refs = append(refs, v)
	}
	return refs
}

// elementText is a nil-safe accessor collecting all character data of an
// element, CDATA sections included.
func elementText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	var sb strings.Builder
	for _, node := range el.Child {
		if cd, ok := node.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return sb.String()
}

func atoiOrZero(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
