package mlx

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// ParseDocumentXML converts live script document XML into the ordered cell
// list. A document without a body or without paragraphs yields an empty list,
// only an unparsable root is an error.
func ParseDocumentXML(data string, log *zap.Logger) ([]Cell, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		return nil, fmt.Errorf("unable to parse document XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return parseBody(childByTag(root, "body"), log), nil
}

func parseBody(body *etree.Element, log *zap.Logger) []Cell {
	if body == nil {
		return []Cell{}
	}

	var (
		cells   []Cell
		pending []string // markup lines waiting to become one cell
	)
	flushMarkup := func() {
		if pending != nil {
			cells = append(cells, Cell{Kind: CellMarkup, Content: strings.Join(pending, "\n")})
			pending = nil
		}
	}

	for _, p := range childrenByTag(body, "p") {
		// Builder inserts bare section break paragraphs at kind
		// transitions, they carry no content.
		if isSectionBreakOnly(p) {
			continue
		}

		style := StyleText
		if name, ok := paragraphStyleName(p); ok {
			style = parseStyleName(name)
		}

		if style == StyleCode {
			flushMarkup()
			var sb strings.Builder
			for _, r := range childrenByTag(p, "r") {
				sb.WriteString(runText(r))
			}
			cells = append(cells, Cell{Kind: CellCode, Content: sb.String()})
			continue
		}

		var sb strings.Builder
		sb.WriteString(style.MarkdownPrefix())
		for _, r := range childrenByTag(p, "r") {
			bold, underline := runFlags(r)
			sb.WriteString(markdownWrap(runText(r), bold, underline))
		}
		pending = append(pending, sb.String())
	}
	flushMarkup()

	return mergeAdjacentCode(cells, log)
}

// mergeAdjacentCode joins runs of consecutive code cells into one cell per
// run. The per-paragraph style model produces one code cell per source line,
// merging restores the multi-line cell. Two intentionally separate adjacent
// code cells would be fused as well, the format gives us nothing to tell them
// apart by.
func mergeAdjacentCode(cells []Cell, log *zap.Logger) []Cell {
	merged := make([]Cell, 0, len(cells))
	for _, cell := range cells {
		if cell.Kind == CellCode && len(merged) > 0 && merged[len(merged)-1].Kind == CellCode {
			merged[len(merged)-1].Content += "\n" + cell.Content
			continue
		}
		merged = append(merged, cell)
	}
	if len(merged) != len(cells) && log != nil {
		log.Debug("Merged adjacent code paragraphs", zap.Int("paragraphs", len(cells)), zap.Int("cells", len(merged)))
	}
	return merged
}
