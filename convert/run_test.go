package convert

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"mlxc/archive"
	"mlxc/config"
	"mlxc/mlx"
	"mlxc/state"
)

// setupTestEnv creates a test environment with proper context and logger
func setupTestEnv(t *testing.T) (context.Context, *state.LocalEnv) {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx := state.ContextWithEnv(context.Background())
	env := state.EnvFromContext(ctx)
	env.Log = logger
	env.Cfg = cfg
	return ctx, env
}

// writeTestScript builds a live script container on disk from the given cells.
func writeTestScript(t *testing.T, path string, doc *mlx.Document) {
	t.Helper()

	documentXML, err := doc.BuildDocumentXML()
	if err != nil {
		t.Fatalf("build document: %v", err)
	}
	outputXML := ""
	if hasResults(doc) {
		if outputXML, _, err = doc.BuildOutputXML(); err != nil {
			t.Fatalf("build outputs: %v", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	defer f.Close()
	if err := archive.Create(f, documentXML, outputXML); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func sampleDocument() *mlx.Document {
	return &mlx.Document{Cells: []mlx.Cell{
		{Kind: mlx.CellMarkup, Content: "# Sample"},
		{Kind: mlx.CellCode, Content: "x = 1", TextOutput: "x = 1"},
	}}
}

func TestProcess_NonExistentPath(t *testing.T) {
	ctx, _ := setupTestEnv(t)
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))

	err := process(ctx, "/nonexistent/path/file.mlx", t.TempDir(), logger)
	if err == nil {
		t.Fatal("Expected error for non-existent path, got nil")
	}
	if !strings.Contains(err.Error(), "input source was not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, _ := setupTestEnv(t)
	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))

	tmpDir := t.TempDir()
	writeTestScript(t, filepath.Join(tmpDir, "a.mlx"), sampleDocument())

	if err := process(cancelCtx, tmpDir, t.TempDir(), logger); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProcess_SingleScript(t *testing.T) {
	ctx, env := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "sample.mlx")
	writeTestScript(t, src, sampleDocument())

	if err := process(ctx, src, dstDir, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dstDir, "sample.md"))
	if err != nil {
		t.Fatalf("read exported markdown: %v", err)
	}
	got := string(md)
	if !strings.Contains(got, "# Sample") || !strings.Contains(got, "```matlab\nx = 1\n```") {
		t.Errorf("Unexpected markdown:\n%s", got)
	}
	if !strings.Contains(got, "```text\nx = 1\n```") {
		t.Errorf("Markdown missing output block:\n%s", got)
	}
}

func TestProcess_Directory(t *testing.T) {
	ctx, env := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	sub := filepath.Join(srcDir, "week1")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestScript(t, filepath.Join(srcDir, "a.mlx"), sampleDocument())
	writeTestScript(t, filepath.Join(sub, "b.mlx"), sampleDocument())

	if err := process(ctx, srcDir, dstDir, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}

	for _, p := range []string{
		filepath.Join(dstDir, "a.md"),
		filepath.Join(dstDir, "week1", "b.md"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Expected output %s: %v", p, err)
		}
	}
}

func TestProcess_Archive(t *testing.T) {
	ctx, env := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	script := filepath.Join(srcDir, "inner.mlx")
	writeTestScript(t, script, sampleDocument())

	arcPath := filepath.Join(srcDir, "bundle.zip")
	arcFile, err := os.Create(arcPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(arcFile)
	w, err := zw.Create("scripts/inner.mlx")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(script)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	arcFile.Close()

	if err := process(ctx, arcPath, dstDir, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "scripts", "inner.md")); err != nil {
		t.Errorf("Expected output from archive: %v", err)
	}
}

func runCommand(ctx context.Context, action cli.ActionFunc, name string, args ...string) error {
	cmd := &cli.Command{
		Name:   name,
		Action: action,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "nodirs"},
			&cli.BoolFlag{Name: "overwrite"},
		},
	}
	return cmd.Run(ctx, append([]string{name}, args...))
}

func TestImport_CreatesScript(t *testing.T) {
	ctx, _ := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	mdPath := filepath.Join(srcDir, "notes.md")

	figDir := filepath.Join(srcDir, "notes_media")
	if err := os.MkdirAll(figDir, 0755); err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(testPNGBase64)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(figDir, "fig.png"), raw, 0644); err != nil {
		t.Fatal(err)
	}

	md := "# Notes\n\n```matlab\nplot(x)\n```\n\n```text\ndone\n```\n\n![figure 1](notes_media/fig.png)\n"
	if err := os.WriteFile(mdPath, []byte(md), 0644); err != nil {
		t.Fatal(err)
	}

	if err := runCommand(ctx, Import, "import", mdPath, dstDir); err != nil {
		t.Fatalf("Import error = %v", err)
	}

	c, err := archive.Open(filepath.Join(dstDir, "notes.mlx"))
	if err != nil {
		t.Fatalf("open produced script: %v", err)
	}
	defer c.Close()

	documentXML, err := c.DocumentXML()
	if err != nil {
		t.Fatalf("document entry: %v", err)
	}
	outputXML, haveOutput := c.OutputXML()
	if !haveOutput {
		t.Fatal("Expected output entry in produced script")
	}

	doc, err := mlx.ParseDocument(documentXML, outputXML, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("parse produced script: %v", err)
	}
	if len(doc.Cells) != 2 {
		t.Fatalf("Expected 2 cells, got %+v", doc.Cells)
	}
	code := doc.Cells[1]
	if code.Kind != mlx.CellCode || code.Content != "plot(x)" {
		t.Errorf("Unexpected code cell: %+v", code)
	}
	if code.TextOutput != "done" {
		t.Errorf("TextOutput = %q, want %q", code.TextOutput, "done")
	}
	if len(code.Figures) != 1 {
		t.Errorf("Expected 1 figure, got %d", len(code.Figures))
	}
}

func TestImport_RefusesOverwrite(t *testing.T) {
	ctx, _ := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	mdPath := filepath.Join(srcDir, "notes.md")
	if err := os.WriteFile(mdPath, []byte("```matlab\nx = 1\n```\n"), 0644); err != nil {
		t.Fatal(err)
	}
	writeTestScript(t, filepath.Join(dstDir, "notes.mlx"), sampleDocument())

	err := runCommand(ctx, Import, "import", mdPath, dstDir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected overwrite refusal, got %v", err)
	}
}

func TestImport_PreservesForeignEntries(t *testing.T) {
	ctx, _ := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	mdPath := filepath.Join(srcDir, "notes.md")
	if err := os.WriteFile(mdPath, []byte("```matlab\ny = 2\n```\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// existing script with an extra package entry we do not model
	target := filepath.Join(dstDir, "notes.mlx")
	f, err := os.Create(target)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range map[string]string{
		archive.DocumentEntry: "<w:document/>",
		"metadata/custom.xml": "<custom/>",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := runCommand(ctx, Import, "import", "--overwrite", mdPath, dstDir); err != nil {
		t.Fatalf("Import error = %v", err)
	}

	c, err := archive.Open(target)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	found := false
	for _, name := range c.Entries() {
		if name == "metadata/custom.xml" {
			found = true
		}
	}
	if !found {
		t.Errorf("Foreign entry lost on rebuild, entries: %v", c.Entries())
	}

	documentXML, err := c.DocumentXML()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(documentXML, "y = 2") {
		t.Error("Document entry was not replaced")
	}
}

func TestExportCommand(t *testing.T) {
	ctx, _ := setupTestEnv(t)

	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "sample.mlx")
	writeTestScript(t, src, sampleDocument())

	if err := runCommand(ctx, Export, "export", src, dstDir); err != nil {
		t.Fatalf("Export error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "sample.md")); err != nil {
		t.Errorf("Expected exported markdown: %v", err)
	}
}

func TestIsZipFile(t *testing.T) {
	dir := t.TempDir()

	text := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(text, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if ok, err := isZipFile(text); err != nil || ok {
		t.Errorf("isZipFile(plain) = %v, %v", ok, err)
	}

	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, []byte("PK"), 0644); err != nil {
		t.Fatal(err)
	}
	if ok, err := isZipFile(short); err != nil || ok {
		t.Errorf("isZipFile(short) = %v, %v", ok, err)
	}

	arc := filepath.Join(dir, "real.zip")
	f, err := os.Create(arc)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	if _, err := zw.Create("x"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if ok, err := isZipFile(arc); err != nil || !ok {
		t.Errorf("isZipFile(zip) = %v, %v", ok, err)
	}
}
