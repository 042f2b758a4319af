package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/feedbridge/feedbridge/internal/constants"
)

var (
	// ErrWriterNotOpen is returned when rows are appended to, or a file is finalized from, a writer without a working file.
	ErrWriterNotOpen = errors.New("writer has no open working file")
	// ErrWriterOpen is returned when a writer with an open working file is opened again.
	ErrWriterOpen = errors.New("writer already has an open working file")
)

// Writer produces the feed file for one feed type.
//
// It owns a private working file during generation. Only the previously
// finalized file is externally visible; Finalize atomically replaces it, so
// readers never observe a half-written feed.
type Writer struct {
	desc Descriptor
	dir  string

	file *os.File
	csv  *csv.Writer
}

// NewWriter returns a writer publishing the feed described by desc into dir.
func NewWriter(desc Descriptor, dir string) *Writer {
	return &Writer{desc: desc, dir: dir}
}

// Open creates a fresh private working file and writes the header line.
func (w *Writer) Open() error {
	if w.file != nil {
		return ErrWriterOpen
	}

	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return fmt.Errorf("failed to create feed output directory: %v", err)
	}

	f, err := os.CreateTemp(w.dir, constants.WorkingFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create working file: %v", err)
	}

	cw := csv.NewWriter(f)
	cw.Comma = w.desc.Delimiter()
	if err := cw.Write(w.desc.Schema()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("failed to write feed header: %v", err)
	}

	w.file = f
	w.csv = cw
	return nil
}

// AppendRows writes one line per row to the working file, emitting fields in
// schema declaration order. Fields missing from a row are written as empty
// strings.
func (w *Writer) AppendRows(rows []Row) error {
	if w.file == nil {
		return ErrWriterNotOpen
	}

	schema := w.desc.schema
	fields := make([]string, len(schema))
	for _, row := range rows {
		for i, name := range schema {
			fields[i] = row[name]
		}
		if err := w.csv.Write(fields); err != nil {
			return fmt.Errorf("failed to append row: %v", err)
		}
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush rows: %v", err)
	}
	return nil
}

// Finalize flushes the working file and atomically replaces the published
// feed file with it. On failure the previously published file is untouched.
// It returns the path of the published file.
func (w *Writer) Finalize() (string, error) {
	if w.file == nil {
		return "", ErrWriterNotOpen
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.Discard()
		return "", fmt.Errorf("failed to flush working file: %v", err)
	}
	if err := w.file.Sync(); err != nil {
		w.Discard()
		return "", fmt.Errorf("failed to sync working file: %v", err)
	}
	if err := w.file.Close(); err != nil {
		w.Discard()
		return "", fmt.Errorf("failed to close working file: %v", err)
	}

	published := w.desc.PublishedPath(w.dir)
	if err := os.Rename(w.file.Name(), published); err != nil {
		w.Discard()
		return "", fmt.Errorf("failed to publish feed file: %v", err)
	}

	w.file = nil
	w.csv = nil
	return published, nil
}

// Discard removes the working file, if any. The published file is untouched.
func (w *Writer) Discard() {
	if w.file == nil {
		return
	}

	name := w.file.Name()
	_ = w.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove working feed file", "file", filepath.Base(name), "error", err)
	}
	w.file = nil
	w.csv = nil
}
