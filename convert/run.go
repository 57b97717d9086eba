// Package convert drives batch conversion between live script containers and
// markdown files for the CLI.
package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maruel/natural"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"mlxc/archive"
	"mlxc/mlx"
	"mlxc/state"
)

// Export converts live script containers into markdown files. The source may
// be a single .mlx file, a directory tree or a ZIP archive holding scripts.
func Export(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("export")

	src, dst, err := sourceAndDestination(cmd)
	if err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	env.NoDirs, env.Overwrite = cmd.Bool("nodirs"), cmd.Bool("overwrite")

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return process(ctx, src, dst, log)
}

// process determines the input type (directory, archive or single script) and
// dispatches accordingly.
func process(ctx context.Context, src, dst string, log *zap.Logger) error {
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("input source was not found (%s): %w", src, err)
	}

	if fi.Mode().IsDir() {
		return processDir(ctx, src, dst, log)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("unexpected path mode for (%s)", src)
	}

	if isScriptPath(src) {
		return exportScript(ctx, src, filepath.Base(src), dst, log)
	}

	ok, err := isZipFile(src)
	if err != nil {
		return fmt.Errorf("unable to check archive type: %w", err)
	}
	if ok {
		return processArchive(ctx, src, dst, log)
	}
	return fmt.Errorf("input was not recognized as live script or archive (%s)", src)
}

// processDir walks the directory tree finding live scripts and exports them.
// Scripts are processed in natural name order so numbered series come out in
// human order.
func processDir(ctx context.Context, dir, dst string, log *zap.Logger) error {
	var scripts []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			log.Warn("Skipping path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !info.Mode().IsRegular() || !isScriptPath(path) {
			return nil
		}
		scripts = append(scripts, path)
		return nil
	})
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		log.Debug("Nothing to process", zap.String("dir", dir))
		return nil
	}
	sort.Slice(scripts, func(i, j int) bool { return natural.Less(scripts[i], scripts[j]) })

	for _, path := range scripts {
		rel := strings.TrimPrefix(strings.TrimPrefix(path, dir), string(filepath.Separator))
		if err := exportScript(ctx, path, rel, dst, log); err != nil {
			log.Error("Unable to process file", zap.String("file", path), zap.Error(err))
		}
	}
	return nil
}

// processArchive exports every live script found inside a ZIP archive.
func processArchive(ctx context.Context, path, dst string, log *zap.Logger) error {
	count := 0
	err := archive.Walk(path, "", func(arc string, f *zip.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		count++

		r, err := f.Open()
		if err != nil {
			log.Error("Unable to open file in archive",
				zap.String("archive", arc), zap.String("file", f.FileHeader.Name), zap.Error(err))
			return nil
		}
		defer r.Close()

		data, err := io.ReadAll(r)
		if err != nil {
			log.Error("Unable to read file in archive",
				zap.String("archive", arc), zap.String("file", f.FileHeader.Name), zap.Error(err))
			return nil
		}

		c, err := archive.NewContainer(data)
		if err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", arc), zap.String("file", f.FileHeader.Name), zap.Error(err))
			return nil
		}
		if err := exportContainer(ctx, c, filepath.FromSlash(f.FileHeader.Name), dst, log); err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", arc), zap.String("file", f.FileHeader.Name), zap.Error(err))
		}
		return nil
	})
	if err == nil && count == 0 {
		log.Debug("Nothing to process", zap.String("archive", path))
	}
	return err
}

// exportScript exports a single live script file. src is the path relative to
// the original source (used to mirror directory structure on the output),
// always ending in the base file name.
func exportScript(ctx context.Context, path, src, dst string, log *zap.Logger) error {
	c, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	return exportContainer(ctx, c, src, dst, log)
}

func exportContainer(ctx context.Context, c *archive.Container, src, dst string, log *zap.Logger) error {
	env := state.EnvFromContext(ctx)

	log.Info("Conversion starting", zap.String("from", src))
	var outputName string
	defer func(start time.Time) {
		log.Info("Conversion completed", zap.Duration("elapsed", time.Since(start)), zap.String("to", outputName))
	}(time.Now())

	documentXML, err := c.DocumentXML()
	if err != nil {
		return err
	}
	outputXML, _ := c.OutputXML()

	doc, err := mlx.ParseDocument(documentXML, outputXML, log)
	if err != nil {
		return fmt.Errorf("unable to parse live script (%s): %w", src, err)
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	md, figures, err := ExportMarkdown(doc, base, &env.Cfg.Document)
	if err != nil {
		return fmt.Errorf("unable to render markdown (%s): %w", src, err)
	}

	outputName = buildOutputPath(src, dst, ".md", env)
	if err := prepareOutputFile(outputName, env); err != nil {
		return err
	}
	if err := os.WriteFile(outputName, []byte(md), 0644); err != nil {
		return fmt.Errorf("unable to write markdown: %w", err)
	}

	outDir := filepath.Dir(outputName)
	for _, fig := range figures {
		figPath := filepath.Join(outDir, filepath.FromSlash(fig.Path))
		if err := os.MkdirAll(filepath.Dir(figPath), 0755); err != nil {
			return fmt.Errorf("unable to create figure directory: %w", err)
		}
		if err := os.WriteFile(figPath, fig.Data, 0644); err != nil {
			return fmt.Errorf("unable to write figure: %w", err)
		}
	}

	env.Rpt.Store("result-"+filepath.Base(outputName), outputName)
	return nil
}

// Import rebuilds a live script container from a markdown file. When the
// destination script already exists and overwrite is requested its other
// package entries are preserved, otherwise a fresh minimal container is
// created.
func Import(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("import")

	src, dst, err := sourceAndDestination(cmd)
	if err != nil {
		return err
	}
	env.NoDirs, env.Overwrite = cmd.Bool("nodirs"), cmd.Bool("overwrite")

	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("input source was not found (%s): %w", src, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("input source is not a file (%s)", src)
	}

	log.Info("Conversion starting", zap.String("from", src))
	var outputName string
	defer func(start time.Time) {
		log.Info("Conversion completed", zap.Duration("elapsed", time.Since(start)), zap.String("to", outputName))
	}(time.Now())

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	srcDir := filepath.Dir(src)
	loadFigure := func(rel string) ([]byte, error) {
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		if !strings.HasPrefix(full, srcDir+string(filepath.Separator)) {
			return nil, fmt.Errorf("figure link escapes source directory: %s", rel)
		}
		return os.ReadFile(full)
	}

	doc, err := ImportMarkdown(string(data), loadFigure, &env.Cfg.Document, log)
	if err != nil {
		return fmt.Errorf("unable to parse markdown (%s): %w", src, err)
	}

	documentXML, err := doc.BuildDocumentXML()
	if err != nil {
		return fmt.Errorf("unable to build document: %w", err)
	}
	outputXML := ""
	if env.Cfg.Document.KeepOutputs && hasResults(doc) {
		if outputXML, _, err = doc.BuildOutputXML(); err != nil {
			return fmt.Errorf("unable to build outputs: %w", err)
		}
	}

	outputName = buildOutputPath(filepath.Base(src), dst, ".mlx", env)

	// rebuild in place keeps package entries we do not model
	var buf bytes.Buffer
	if old, err := archive.Open(outputName); err == nil {
		if !env.Overwrite {
			old.Close()
			return fmt.Errorf("output file already exists: %s", outputName)
		}
		old.FixZip = env.Cfg.Document.FixZip
		log.Warn("Overwriting existing file", zap.String("file", outputName))
		err = old.Save(&buf, documentXML, outputXML)
		old.Close()
		if err != nil {
			return fmt.Errorf("unable to rebuild container: %w", err)
		}
	} else {
		if err := prepareOutputFile(outputName, env); err != nil {
			return err
		}
		if err := archive.Create(&buf, documentXML, outputXML); err != nil {
			return fmt.Errorf("unable to create container: %w", err)
		}
	}

	if err := os.WriteFile(outputName, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("unable to write container: %w", err)
	}

	env.Rpt.Store("result-"+filepath.Base(outputName), outputName)
	return nil
}

// Outputs prints a summary of the cached execution results stored in a live
// script.
func Outputs(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("outputs")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}

	c, err := archive.Open(src)
	if err != nil {
		return err
	}
	defer c.Close()

	documentXML, err := c.DocumentXML()
	if err != nil {
		return err
	}
	outputXML, _ := c.OutputXML()

	doc, err := mlx.ParseDocument(documentXML, outputXML, log)
	if err != nil {
		return fmt.Errorf("unable to parse live script (%s): %w", src, err)
	}

	w := cmd.Writer
	if w == nil {
		w = os.Stdout
	}
	for i, cell := range doc.Cells {
		if cell.Kind != mlx.CellCode {
			continue
		}
		fmt.Fprintf(w, "cell %d: %d line(s), %d variable(s), %d figure(s)\n",
			i+1, cell.LineCount(), len(cell.Outputs), len(cell.Figures))
		for _, v := range cell.Outputs {
			if v.Tabular() {
				fmt.Fprintf(w, "  %s: %dx%d %s\n", v.Name, v.Rows, v.Columns, v.Type)
				continue
			}
			fmt.Fprintf(w, "  %s = %s\n", v.Name, v.Value)
		}
		if cell.TextOutput != "" {
			fmt.Fprintf(w, "  text: %q\n", cell.TextOutput)
		}
	}
	return nil
}

func hasResults(doc *mlx.Document) bool {
	for i := range doc.Cells {
		if doc.Cells[i].HasResults() {
			return true
		}
	}
	return false
}

func sourceAndDestination(cmd *cli.Command) (string, string, error) {
	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return "", "", errors.New("no input source has been specified")
	}
	src, err := filepath.Abs(src)
	if err != nil {
		return "", "", err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return "", "", fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// prepareOutputFile enforces the overwrite policy and makes sure the output
// directory exists.
func prepareOutputFile(name string, env *state.LocalEnv) error {
	if _, err := os.Stat(name); err == nil {
		if !env.Overwrite {
			return fmt.Errorf("output file already exists: %s", name)
		}
		if err = os.Remove(name); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(filepath.Dir(name), 0755)
}

func isScriptPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mlx")
}

// isZipFile sniffs the local file header magic.
func isZipFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(magic[:], []byte("PK\x03\x04")), nil
}
