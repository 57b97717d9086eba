package mlx

import (
	"strings"

	"go.uber.org/zap"
)

// Document is the in-memory form of one live script: the ordered cell list
// with cached execution results already attached to code cells. All transform
// functions here are pure and synchronous; the caller owns the structure and
// serializes concurrent access per document.
type Document struct {
	Cells []Cell
}

// NewDocument returns the minimal valid document: a single empty code cell.
func NewDocument() *Document {
	return &Document{Cells: []Cell{{Kind: CellCode}}}
}

// ParseDocument parses document XML and, best effort, the companion output
// metadata XML, attaching cached output bundles to the code cells they belong
// to. outputXML may be empty or damaged without failing the parse.
func ParseDocument(documentXML, outputXML string, log *zap.Logger) (*Document, error) {
	cells, err := ParseDocumentXML(documentXML, log)
	if err != nil {
		return nil, err
	}
	attachOutputs(cells, ParseOutputXML(outputXML, log))
	return &Document{Cells: cells}, nil
}

// attachOutputs walks the cells with the shared region counter: a code cell
// spanning n lines owns the next n region indices. When building we only ever
// put bundles on a cell's last region, but on read any region in the span may
// carry one, so the whole span is collected.
func attachOutputs(cells []Cell, regions RegionMap) {
	if len(regions) == 0 {
		return
	}
	next := 0
	for i := range cells {
		cell := &cells[i]
		if cell.Kind != CellCode {
			continue
		}
		lines := cell.LineCount()
		var texts []string
		for region := next; region < next+lines; region++ {
			bundle, ok := regions[region]
			if !ok {
				continue
			}
			cell.Outputs = append(cell.Outputs, bundle.Variables...)
			cell.Figures = append(cell.Figures, bundle.Figures...)
			texts = append(texts, bundle.Text...)
		}
		if len(texts) > 0 {
			cell.TextOutput = strings.Join(texts, "\n")
		}
		next += lines
	}
}

// BuildDocumentXML regenerates the document XML stream for the cells.
func (d *Document) BuildDocumentXML() (string, error) {
	return BuildDocumentXML(d.Cells)
}

// BuildOutputXML regenerates the output metadata stream from the execution
// results attached to the code cells. The returned region map is what a
// subsequent parse of the emitted XML will see.
func (d *Document) BuildOutputXML() (string, RegionMap, error) {
	return BuildOutputXML(d.Cells)
}
