package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/quill/internal/types"
)

// ErrDocumentNotFound reports a missing source file. Raised before any
// document row is mutated.
var ErrDocumentNotFound = errors.New("document file not found")

// UnsupportedDocumentKindError reports a file extension the ingester does
// not handle. Hint carries actionable guidance when one exists.
type UnsupportedDocumentKindError struct {
	Path string
	Ext  string
	Hint string
}

func (e *UnsupportedDocumentKindError) Error() string {
	msg := fmt.Sprintf("unsupported document kind %q for %s", e.Ext, e.Path)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// DocumentExtractionError reports unreadable or malformed document content.
type DocumentExtractionError struct {
	Path string
	Err  error
}

func (e *DocumentExtractionError) Error() string {
	return fmt.Sprintf("extracting text from %s: %v", e.Path, e.Err)
}

func (e *DocumentExtractionError) Unwrap() error { return e.Err }

// StageFailureError wraps a stage body failure after it has been recorded
// in the processing-state ledger.
type StageFailureError struct {
	Stage types.Stage
	Err   error
}

func (e *StageFailureError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailureError) Unwrap() error { return e.Err }
