package store

import "fmt"

// WriteError reports a failed document write. The original document is left
// untouched and the temporary file has been removed.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// CorruptError describes why a document could not be read.
type CorruptError struct {
	Path string
	Err  error
}

func (e CorruptError) Error() string {
	return fmt.Errorf("store: corrupt %s: %w", e.Path, e.Err).Error()
}

func (e CorruptError) Unwrap() error {
	return e.Err
}
