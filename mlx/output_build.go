package mlx

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

// BuildOutputXML emits output metadata XML for the cells and returns it
// together with the region map it encodes. Element indices are assigned from
// a single counter running across the whole document. Every code cell
// produces one region per source line; only the last line's region carries
// the cell's element indices. Markup cells contribute nothing.
func BuildOutputXML(cells []Cell) (string, RegionMap, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("mwdata")
	outputs := root.CreateElement("outputArray")
	regionArr := root.CreateElement("regionArray")

	regions := make(RegionMap)
	next := 0      // next element index
	regionIdx := 0 // next region index

	for i := range cells {
		cell := &cells[i]
		if cell.Kind != CellCode {
			continue
		}

		var refs []int
		for _, v := range cell.Outputs {
			appendVariableElement(outputs, v)
			refs = append(refs, next)
			next++
		}
		for _, fig := range cell.Figures {
			appendFigureElement(outputs, fig)
			refs = append(refs, next)
			next++
		}
		if cell.TextOutput != "" {
			appendTextElement(outputs, cell.TextOutput)
			refs = append(refs, next)
			next++
		}

		lines := cell.LineCount()
		for range lines - 1 {
			appendRegion(regionArr, nil)
			regionIdx++
		}
		appendRegion(regionArr, refs)
		if len(refs) > 0 {
			regions[regionIdx] = OutputBundle{
				Variables: variableBundle(cell.Outputs),
				Figures:   figureBundle(cell.Figures),
				Text:      textBundle(cell.TextOutput),
			}
		}
		regionIdx++
	}

	data, err := doc.WriteToString()
	if err != nil {
		return "", nil, err
	}
	return data, regions, nil
}

func variableBundle(vars []Output) []Output {
	var out []Output
	for _, v := range vars {
		v.Type = orDefault(v.Type, "variable")
		out = append(out, v)
	}
	return out
}

// figureBundle and textBundle mirror the normalized shapes the parser
// produces when reading the emitted XML back, so the returned region map is
// identical to a read-back one.
func figureBundle(figs []Figure) []Figure {
	var out []Figure
	for _, fig := range figs {
		out = append(out, Figure{Data: FigureDataURI(fig)})
	}
	return out
}

func textBundle(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

func newOutputElement(outputs *etree.Element) *etree.Element {
	el := outputs.CreateElement("element")
	el.CreateAttr("uid", uuid.NewString())
	return el
}

func appendVariableElement(outputs *etree.Element, v Output) {
	data := newOutputElement(outputs).CreateElement("outputData")
	data.CreateElement("type").SetText(orDefault(v.Type, "variable"))
	data.CreateElement("name").SetText(v.Name)
	data.CreateElement("value").SetText(v.Value)
	data.CreateElement("rows").SetText(strconv.Itoa(v.Rows))
	data.CreateElement("columns").SetText(strconv.Itoa(v.Columns))
}

func appendFigureElement(outputs *etree.Element, fig Figure) {
	el := newOutputElement(outputs)
	el.CreateAttr("type", "figure")
	el.CreateElement("figureUri").SetText(FigureDataURI(fig))
}

func appendTextElement(outputs *etree.Element, text string) {
	el := newOutputElement(outputs)
	el.CreateAttr("type", "text")
	el.CreateElement("text").SetText(text)
}

func appendRegion(regionArr *etree.Element, refs []int) {
	indices := regionArr.CreateElement("region").CreateElement("outputIndices")
	if len(refs) == 1 {
		indices.SetText(strconv.Itoa(refs[0]))
		return
	}
	for _, ref := range refs {
		indices.CreateElement("index").SetText(strconv.Itoa(ref))
	}
}

// FigureDataURI renders a figure as a data URI. Payloads that already are
// data URIs pass through unchanged; for bare base64 payloads the media type
// is sniffed from the decoded header, falling back to PNG which is what the
// execution backend captures.
func FigureDataURI(fig Figure) string {
	if strings.HasPrefix(fig.Data, "data:") {
		return fig.Data
	}
	return "data:" + FigureMIME(fig) + ";base64," + fig.Data
}

// FigureBytes decodes the figure payload to raw image bytes, stripping the
// data URI envelope when present.
func FigureBytes(fig Figure) ([]byte, error) {
	payload := fig.Data
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(payload)
}

// FigureMIME sniffs the media type of the figure payload without ever
// decoding pixel data, only the magic bytes are examined.
func FigureMIME(fig Figure) string {
	payload := fig.Data
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	head := payload
	if len(head) > 512 {
		head = head[:512]
	}
	if raw, err := base64.StdEncoding.DecodeString(head[:len(head)-len(head)%4]); err == nil {
		if kind, err := filetype.Match(raw); err == nil && kind != filetype.Unknown && kind.MIME.Type == "image" {
			return kind.MIME.Value
		}
	}
	return "image/png"
}
