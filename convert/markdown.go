package convert

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/gosimple/slug"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"mlxc/config"
	"mlxc/mlx"
)

// FigureFile is a figure payload materialized during markdown export. Path is
// relative to the markdown file so the emitted image links resolve in place.
type FigureFile struct {
	Path string
	Data []byte
}

const fenceMarker = "```"

// textFenceLang tags fenced blocks holding captured execution text so import
// can tell them apart from source code blocks.
const textFenceLang = "text"

// ExportMarkdown renders the document to markdown. Code cells become fenced
// blocks tagged with the configured language, markup cells pass through
// verbatim. When outputs are kept, captured text follows its code block as a
// "text" fenced block and figures are returned as files to be written next to
// the markdown, referenced by relative image links. base is the script file
// name without extension, it seeds figure file naming.
func ExportMarkdown(doc *mlx.Document, base string, cfg *config.DocumentConfig) (string, []FigureFile, error) {
	var (
		sb      strings.Builder
		figures []FigureFile
	)

	figBase := slug.Make(base)
	if figBase == "" {
		figBase = "script"
	}
	figDir := figBase + cfg.Figures.DirSuffix
	figNum := 0

	for _, cell := range doc.Cells {
		switch cell.Kind {
		case mlx.CellMarkup:
			sb.WriteString(cell.Content)
			sb.WriteString("\n\n")
		case mlx.CellCode:
			sb.WriteString(fenceMarker)
			sb.WriteString(cfg.CodeFence)
			sb.WriteString("\n")
			sb.WriteString(cell.Content)
			sb.WriteString("\n")
			sb.WriteString(fenceMarker)
			sb.WriteString("\n\n")

			if cfg.KeepOutputs {
				if text := renderTextOutput(&cell); text != "" {
					sb.WriteString(fenceMarker)
					sb.WriteString(textFenceLang)
					sb.WriteString("\n")
					sb.WriteString(text)
					sb.WriteString("\n")
					sb.WriteString(fenceMarker)
					sb.WriteString("\n\n")
				}
			}
			if cfg.Figures.Export {
				for _, fig := range cell.Figures {
					figNum++
					data, err := mlx.FigureBytes(fig)
					if err != nil {
						return "", nil, fmt.Errorf("unable to decode figure %d: %w", figNum, err)
					}
					name := fmt.Sprintf("%s-figure-%d%s", figBase, figNum, figureExt(data))
					rel := path.Join(figDir, name)
					figures = append(figures, FigureFile{Path: rel, Data: data})
					fmt.Fprintf(&sb, "![figure %d](%s)\n\n", figNum, rel)
				}
			}
		default:
			return "", nil, fmt.Errorf("unknown cell kind %q", cell.Kind)
		}
	}

	return strings.TrimSuffix(sb.String(), "\n"), figures, nil
}

// renderTextOutput flattens a cell's captured variables and console text the
// way the interpreter console would have shown them, variables first.
func renderTextOutput(cell *mlx.Cell) string {
	var lines []string
	for _, v := range cell.Outputs {
		if v.Tabular() {
			lines = append(lines, fmt.Sprintf("%s = %dx%d matrix", v.Name, v.Rows, v.Columns))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s = %s", v.Name, v.Value))
	}
	if cell.TextOutput != "" {
		lines = append(lines, cell.TextOutput)
	}
	return strings.Join(lines, "\n")
}

// figureExt picks the file extension from image magic bytes.
func figureExt(data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && kind.MIME.Type == "image" {
		return "." + kind.Extension
	}
	return ".png"
}

// FigureLoader resolves a relative image link found in markdown to the raw
// image bytes, or returns an error when the file cannot be read.
type FigureLoader func(rel string) ([]byte, error)

// ImportMarkdown parses markdown back into a document. Fenced blocks tagged
// with the configured language (or untagged) become code cells, "text" blocks
// reattach as captured console output of the preceding code cell, image links
// that resolve through loadFigure reattach as figures. Everything else
// accumulates into markup cells. A markdown file with no content at all
// yields the minimal valid document.
func ImportMarkdown(text string, loadFigure FigureLoader, cfg *config.DocumentConfig, log *zap.Logger) (*mlx.Document, error) {
	var (
		cells  []mlx.Cell
		markup []string
	)
	lastCode := -1

	flushMarkup := func() {
		content := trimBlankEdges(markup)
		markup = nil
		if len(content) == 0 {
			return
		}
		cells = append(cells, mlx.Cell{Kind: mlx.CellMarkup, Content: strings.Join(content, "\n")})
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if lang, ok := fenceOpen(trimmed); ok {
			body, next := collectFence(lines, i+1)
			switch {
			case lang == cfg.CodeFence || lang == "":
				flushMarkup()
				cells = append(cells, mlx.Cell{Kind: mlx.CellCode, Content: strings.Join(body, "\n")})
				lastCode = len(cells) - 1
			case lang == textFenceLang && lastCode >= 0:
				cells[lastCode].TextOutput = strings.Join(body, "\n")
			default:
				// foreign fence, keep it as prose
				markup = append(markup, lines[i:next]...)
			}
			i = next - 1
			continue
		}

		if rel, ok := imageLink(trimmed); ok && lastCode >= 0 && loadFigure != nil {
			data, err := loadFigure(rel)
			if err == nil {
				cells[lastCode].Figures = append(cells[lastCode].Figures, mlx.Figure{Data: base64.StdEncoding.EncodeToString(data)})
				continue
			}
			log.Warn("Unable to load linked figure, keeping link as text", zap.String("path", rel), zap.Error(err))
		}

		markup = append(markup, line)
	}
	flushMarkup()

	if len(cells) == 0 {
		return mlx.NewDocument(), nil
	}
	return &mlx.Document{Cells: cells}, nil
}

// fenceOpen reports whether the line opens a fenced block and returns its
// info string.
func fenceOpen(line string) (string, bool) {
	if !strings.HasPrefix(line, fenceMarker) {
		return "", false
	}
	lang := strings.TrimSpace(strings.TrimPrefix(line, fenceMarker))
	if strings.Contains(lang, "`") {
		return "", false
	}
	return lang, true
}

// collectFence gathers lines until the closing fence, returning the body and
// the index one past the closing fence. An unterminated fence runs to EOF.
func collectFence(lines []string, from int) ([]string, int) {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fenceMarker {
			return lines[from:i], i + 1
		}
	}
	return lines[from:], len(lines)
}

// imageLink matches a line that is exactly one markdown image link and
// returns the link target.
func imageLink(line string) (string, bool) {
	if !strings.HasPrefix(line, "![") {
		return "", false
	}
	mid := strings.Index(line, "](")
	if mid < 0 || !strings.HasSuffix(line, ")") {
		return "", false
	}
	rel := line[mid+2 : len(line)-1]
	if rel == "" || strings.Contains(rel, "](") {
		return "", false
	}
	return rel, true
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
