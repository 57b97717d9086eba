// Package mlx implements bidirectional conversion between MATLAB live script
// document XML (WordprocessingML dialect) and a flat list of notebook cells,
// plus the output metadata side channel carrying cached execution results.
package mlx

import "strings"

// Type definitions for the live script content model.

// CellKind distinguishes the two kinds of cells a live script is made of.
type CellKind string

const (
	CellCode   CellKind = "code"
	CellMarkup CellKind = "markup"
)

// Cell is one unit of notebook content: either executable code or prose.
// Content of a code cell is the literal source text with newlines preserved
// verbatim. Content of a markup cell is a newline-joined sequence of logical
// lines carrying markdown-style heading prefixes and inline bold/italic markers.
//
// Cells are produced fresh on every parse and carry no identity across parses;
// whoever holds the slice owns it.
type Cell struct {
	Kind       CellKind
	Content    string
	Outputs    []Output
	Figures    []Figure
	TextOutput string
}

// LineCount returns the number of source lines the cell spans. Every cell has
// at least one line, an empty content is a single empty line.
func (c *Cell) LineCount() int {
	return strings.Count(c.Content, "\n") + 1
}

// HasResults reports whether the cell carries any cached execution results.
func (c *Cell) HasResults() bool {
	return len(c.Outputs) > 0 || len(c.Figures) > 0 || c.TextOutput != ""
}

// Output is a single captured variable value. Value holds the textual
// representation exactly as recorded in the output metadata, it is never
// reparsed or reformatted here.
type Output struct {
	Type    string // "matrix", "variable" or "other"
	Name    string
	Value   string
	Rows    int
	Columns int
}

// Tabular reports whether the output should be rendered as a table rather
// than a scalar "name = value" line.
func (o Output) Tabular() bool {
	return o.Type == "matrix" && o.Rows > 1
}

// Figure is an opaque raster image, either a bare base64 payload or a complete
// data URI. Pixel data is never decoded by this package.
type Figure struct {
	Data string
}

// OutputBundle groups everything attached to one source line region.
type OutputBundle struct {
	Variables []Output
	Figures   []Figure
	Text      []string
}

// Empty reports whether the bundle carries nothing at all.
func (b OutputBundle) Empty() bool {
	return len(b.Variables) == 0 && len(b.Figures) == 0 && len(b.Text) == 0
}

// RegionMap associates paragraph region indices (one region per code source
// line, counted across the whole document) with output bundles. Only regions
// with non-empty bundles are present.
type RegionMap map[int]OutputBundle

// ExecResult is the result shape produced by the external execution backend.
// The core only consumes it, how it was produced is not our concern.
type ExecResult struct {
	Stdout  string
	Stderr  string
	Figures []Figure
}

// SetResult replaces the cell's cached execution results with res. Captured
// stdout and stderr are aggregated into a single text output, stderr last.
func (c *Cell) SetResult(res ExecResult) {
	c.Outputs = nil
	c.Figures = append([]Figure(nil), res.Figures...)

	var parts []string
	if s := strings.TrimRight(res.Stdout, "\n"); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimRight(res.Stderr, "\n"); s != "" {
		parts = append(parts, s)
	}
	c.TextOutput = strings.Join(parts, "\n")
}

// ClearResults drops all cached execution results from the cell.
func (c *Cell) ClearResults() {
	c.Outputs = nil
	c.Figures = nil
	c.TextOutput = ""
}
