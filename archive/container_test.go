package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func buildTestArchive(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

func readAllEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	out := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %q: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %q: %v", f.Name, err)
		}
		out[f.Name] = string(content)
	}
	return out
}

var testEntries = map[string]string{
	DocumentEntry:                 "<w:document/>",
	OutputEntry:                   "<mwdata/>",
	"[Content_Types].xml":         "<Types/>",
	"_rels/.rels":                 "<Relationships/>",
	"metadata/coreProperties.xml": "<coreProperties/>",
}

var testOrder = []string{
	"[Content_Types].xml",
	"_rels/.rels",
	DocumentEntry,
	OutputEntry,
	"metadata/coreProperties.xml",
}

func TestContainerReadEntries(t *testing.T) {
	c, err := NewContainer(buildTestArchive(t, testEntries, testOrder))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()

	doc, err := c.DocumentXML()
	if err != nil {
		t.Fatalf("DocumentXML: %v", err)
	}
	if doc != "<w:document/>" {
		t.Fatalf("document content %q", doc)
	}

	out, ok := c.OutputXML()
	if !ok || out != "<mwdata/>" {
		t.Fatalf("output content %q ok=%v", out, ok)
	}

	if got := c.Entries(); !reflect.DeepEqual(got, testOrder) {
		t.Fatalf("entries %v, want %v", got, testOrder)
	}
}

func TestContainerMissingDocument(t *testing.T) {
	data := buildTestArchive(t, map[string]string{"readme.txt": "hi"}, []string{"readme.txt"})
	c, err := NewContainer(data)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := c.DocumentXML(); !errors.Is(err, ErrNotLiveScript) {
		t.Fatalf("expected ErrNotLiveScript, got %v", err)
	}
	if _, ok := c.OutputXML(); ok {
		t.Fatalf("expected no output entry")
	}
}

func TestContainerSavePreservesOtherEntries(t *testing.T) {
	c, err := NewContainer(buildTestArchive(t, testEntries, testOrder))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	var buf bytes.Buffer
	if err := c.Save(&buf, "<w:document>new</w:document>", "<mwdata>new</mwdata>"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := readAllEntries(t, buf.Bytes())
	if len(got) != len(testEntries) {
		t.Fatalf("entry count changed: %d != %d", len(got), len(testEntries))
	}
	for name, content := range testEntries {
		switch name {
		case DocumentEntry:
			if got[name] != "<w:document>new</w:document>" {
				t.Fatalf("document not replaced: %q", got[name])
			}
		case OutputEntry:
			if got[name] != "<mwdata>new</mwdata>" {
				t.Fatalf("output not replaced: %q", got[name])
			}
		default:
			if got[name] != content {
				t.Fatalf("passthrough entry %q changed: %q != %q", name, got[name], content)
			}
		}
	}

	// entry order must survive the rewrite as well
	reopened, err := NewContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if names := reopened.Entries(); !reflect.DeepEqual(names, testOrder) {
		t.Fatalf("entry order changed: %v", names)
	}
}

func TestContainerSaveKeepsOutputWhenEmpty(t *testing.T) {
	c, err := NewContainer(buildTestArchive(t, testEntries, testOrder))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Save(&buf, "<w:document>new</w:document>", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := readAllEntries(t, buf.Bytes())
	if got[OutputEntry] != testEntries[OutputEntry] {
		t.Fatalf("original output entry must survive: %q", got[OutputEntry])
	}
}

func TestContainerSaveAppendsMissingOutput(t *testing.T) {
	entries := map[string]string{DocumentEntry: "<w:document/>", "readme.txt": "hi"}
	c, err := NewContainer(buildTestArchive(t, entries, []string{DocumentEntry, "readme.txt"}))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Save(&buf, "<w:document/>", "<mwdata/>"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := readAllEntries(t, buf.Bytes())
	if got[OutputEntry] != "<mwdata/>" {
		t.Fatalf("output entry not appended: %v", got)
	}
	if got["readme.txt"] != "hi" {
		t.Fatalf("passthrough entry changed: %q", got["readme.txt"])
	}
}

func TestOpenFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.mlx")
	if err := os.WriteFile(path, buildTestArchive(t, testEntries, testOrder), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if c.Name() != path {
		t.Fatalf("container name %q", c.Name())
	}
	if _, err := c.DocumentXML(); err != nil {
		t.Fatalf("DocumentXML: %v", err)
	}
}

func TestWalkFindsLiveScripts(t *testing.T) {
	inner := buildTestArchive(t, testEntries, testOrder)
	outer := buildTestArchive(t, map[string]string{
		"books/demo.mlx":  string(inner),
		"books/notes.txt": "skip me",
		"other/deep.MLX":  string(inner),
	}, []string{"books/demo.mlx", "books/notes.txt", "other/deep.MLX"})

	path := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(path, outer, 0644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	var seen []string
	err := Walk(path, "books/", func(_ string, f *zip.File) error {
		seen = append(seen, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !reflect.DeepEqual(seen, []string{"books/demo.mlx"}) {
		t.Fatalf("walk results %v", seen)
	}

	seen = nil
	if err := Walk(path, "", func(_ string, f *zip.File) error {
		seen = append(seen, f.Name)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !reflect.DeepEqual(seen, []string{"books/demo.mlx", "other/deep.MLX"}) {
		t.Fatalf("walk results %v", seen)
	}
}

func TestCreate(t *testing.T) {
	var buf bytes.Buffer
	if err := Create(&buf, "<w:document/>", "<mwdata/>"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	entries := readAllEntries(t, buf.Bytes())
	for _, name := range []string{contentTypesEntry, relsEntry, DocumentEntry, OutputEntry} {
		if _, ok := entries[name]; !ok {
			t.Errorf("Missing entry %q", name)
		}
	}
	if entries[DocumentEntry] != "<w:document/>" {
		t.Errorf("Document entry = %q", entries[DocumentEntry])
	}

	c, err := NewContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("reopen created container: %v", err)
	}
	if _, err := c.DocumentXML(); err != nil {
		t.Errorf("DocumentXML() error = %v", err)
	}
	if _, ok := c.OutputXML(); !ok {
		t.Error("Expected output entry")
	}
}

func TestCreateWithoutOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := Create(&buf, "<w:document/>", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	c, err := NewContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("reopen created container: %v", err)
	}
	if _, ok := c.OutputXML(); ok {
		t.Error("Did not expect output entry")
	}
}
