// Package archive builds live script container handling on top of ZIP.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	fixzip "github.com/hidez8891/zip"
)

// Fixed entry paths inside a live script container.
const (
	DocumentEntry = "matlab/document.xml"
	OutputEntry   = "matlab/output.xml"
)

// ErrNotLiveScript marks archives that are valid ZIPs but lack the mandatory
// document entry. Distinct from an empty document, which parses fine.
var ErrNotLiveScript = errors.New("missing " + DocumentEntry + " entry")

// Container gives named read access to a live script archive and can
// re-emit it with only the document and output entries replaced, every other
// entry copied byte for byte with its order and compression preserved.
type Container struct {
	// FixZip strips data descriptor flags from copied entries; some
	// package readers reject entries that carry them.
	FixZip bool

	name   string
	files  []*fixzip.File
	closer io.Closer
}

// Open opens a live script container file.
func Open(path string) (*Container, error) {
	r, err := fixzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open container (%s): %w", path, err)
	}
	return &Container{name: path, files: r.File, closer: r}, nil
}

// NewContainer reads a live script container from an in-memory buffer.
func NewContainer(data []byte) (*Container, error) {
	r, err := fixzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to read container: %w", err)
	}
	return &Container{name: "memory", files: r.File}, nil
}

// Close releases the underlying file, if any.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Name returns the path the container was opened from.
func (c *Container) Name() string {
	return c.name
}

// Entries lists all non-directory entry names in archive order.
func (c *Container) Entries() []string {
	var names []string
	for _, f := range c.files {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// DocumentXML returns the document entry content. An archive without it is
// not a live script container at all.
func (c *Container) DocumentXML() (string, error) {
	data, found, err := c.readEntry(DocumentEntry)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s: %w", c.name, ErrNotLiveScript)
	}
	return string(data), nil
}

// OutputXML returns the optional output metadata entry content. The second
// result is false when the entry is absent.
func (c *Container) OutputXML() (string, bool) {
	data, found, err := c.readEntry(OutputEntry)
	if err != nil || !found {
		return "", false
	}
	return string(data), true
}

func (c *Container) readEntry(name string) ([]byte, bool, error) {
	for _, f := range c.files {
		if f.Name != name || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, fmt.Errorf("unable to open entry %q: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, true, fmt.Errorf("unable to read entry %q: %w", name, err)
		}
		return data, true, nil
	}
	return nil, false, nil
}

// Save writes a clone of the container to w, replacing the document entry
// with documentXML and, when outputXML is non-empty, the output entry with
// outputXML (appending it if the original had none). Everything else is
// copied raw. An empty outputXML leaves the original output entry untouched.
func (c *Container) Save(w io.Writer, documentXML, outputXML string) error {
	zw := fixzip.NewWriter(w)

	haveOutput := false
	for _, f := range c.files {
		switch {
		case f.Name == DocumentEntry && !f.FileInfo().IsDir():
			if err := writeEntry(zw, f.Name, f.Method, documentXML); err != nil {
				return err
			}
		case f.Name == OutputEntry && !f.FileInfo().IsDir() && outputXML != "":
			haveOutput = true
			if err := writeEntry(zw, f.Name, f.Method, outputXML); err != nil {
				return err
			}
		default:
			if c.FixZip {
				f.Flags &= ^fixzip.FlagDataDescriptor
			}
			if err := zw.CopyFile(f); err != nil {
				return fmt.Errorf("unable to copy entry %q: %w", f.Name, err)
			}
		}
	}
	if outputXML != "" && !haveOutput {
		if err := writeEntry(zw, OutputEntry, fixzip.Deflate, outputXML); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Package metadata for containers built from scratch. Readers only ever look
// at the document and output entries, but a well formed package needs content
// types and a root relationship too.
const (
	contentTypesEntry = "[Content_Types].xml"
	contentTypesXML   = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/matlab/document.xml" ContentType="application/vnd.mathworks.matlab.code.document+xml"/><Override PartName="/matlab/output.xml" ContentType="application/vnd.mathworks.matlab.output+xml"/></Types>`

	relsEntry = "_rels/.rels"
	relsXML   = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.mathworks.com/matlab/code/2013/relationships/document" Target="matlab/document.xml"/></Relationships>`
)

// Create writes a brand new container to w holding the given document and,
// when outputXML is non-empty, output entries plus the minimal package
// scaffolding around them.
func Create(w io.Writer, documentXML, outputXML string) error {
	zw := fixzip.NewWriter(w)

	for _, e := range []struct{ name, content string }{
		{contentTypesEntry, contentTypesXML},
		{relsEntry, relsXML},
		{DocumentEntry, documentXML},
	} {
		if err := writeEntry(zw, e.name, fixzip.Deflate, e.content); err != nil {
			return err
		}
	}
	if outputXML != "" {
		if err := writeEntry(zw, OutputEntry, fixzip.Deflate, outputXML); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *fixzip.Writer, name string, method uint16, content string) error {
	ew, err := zw.CreateHeader(&fixzip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("unable to create entry %q: %w", name, err)
	}
	if _, err := ew.Write([]byte(content)); err != nil {
		return fmt.Errorf("unable to write entry %q: %w", name, err)
	}
	return nil
}
