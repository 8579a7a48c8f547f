// Package store persists the tracker's JSON documents.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// ReadStatus tells a caller what a read actually found.
type ReadStatus int

const (
	// ReadOK means the document was decoded.
	ReadOK ReadStatus = iota
	// ReadEmpty means there was no document yet.
	ReadEmpty
	// ReadCorrupt means the document exists but could not be read or decoded.
	ReadCorrupt
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadEmpty:
		return "empty"
	case ReadCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("ReadStatus(%d)", int(s))
	}
}

// ReadResult is the outcome of loading a document. Reason is set only for
// ReadCorrupt and is a CorruptError.
type ReadResult struct {
	Status ReadStatus
	Reason error
}

// OK reports whether the document was decoded.
func (r ReadResult) OK() bool {
	return r.Status == ReadOK
}

// Option customises a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for retention and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// jsonFile reads and atomically replaces a single JSON document.
type jsonFile struct {
	path string
}

func newJSONFile(path string) jsonFile {
	return jsonFile{path: path}
}

// load decodes the file into v. v is left untouched unless the result is OK.
func (f jsonFile) load(v any) ReadResult {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ReadResult{Status: ReadEmpty}
	}
	if err != nil {
		return f.corrupt(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ReadResult{Status: ReadEmpty}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return f.corrupt(err)
	}
	return ReadResult{Status: ReadOK}
}

func (f jsonFile) corrupt(err error) ReadResult {
	reason := CorruptError{Path: f.path, Err: err}
	slog.Warn("unreadable document, treating as empty",
		slog.String("path", f.path),
		slog.Any("error", err),
	)
	return ReadResult{Status: ReadCorrupt, Reason: reason}
}

// save writes v to a pending file next to the target and renames it into
// place, so readers see either the old or the new document.
func (f jsonFile) save(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return WriteError{Path: f.path, Op: "encode", Err: err}
	}
	encoded = append(encoded, '\n')

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return WriteError{Path: f.path, Op: "create directory", Err: err}
	}

	pending, err := renameio.NewPendingFile(f.path, renameio.WithPermissions(0o644))
	if err != nil {
		return WriteError{Path: f.path, Op: "create temp", Err: err}
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			slog.Warn("remove temp file", slog.String("path", pending.Name()), slog.Any("error", err))
		}
	}()

	if _, err := pending.Write(encoded); err != nil {
		return WriteError{Path: f.path, Op: "write temp", Err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return WriteError{Path: f.path, Op: "replace", Err: err}
	}
	return nil
}

// Document is a single JSON document with empty-on-missing reads.
type Document[T any] struct {
	file jsonFile
}

// NewDocument returns a document stored at path.
func NewDocument[T any](path string, opts ...Option) *Document[T] {
	return &Document[T]{file: newJSONFile(path)}
}

// Path returns the document location.
func (d *Document[T]) Path() string {
	return d.file.path
}

// Load decodes the document and reports what was found.
func (d *Document[T]) Load() (T, ReadResult) {
	var value T
	result := d.file.load(&value)
	if !result.OK() {
		var zero T
		return zero, result
	}
	return value, result
}

// Read returns the document or the zero value when it is missing or corrupt.
func (d *Document[T]) Read() T {
	value, _ := d.Load()
	return value
}

// Write atomically replaces the document.
func (d *Document[T]) Write(value T) error {
	return d.file.save(value)
}
