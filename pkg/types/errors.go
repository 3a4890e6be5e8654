package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyMissing means a required external tool is unavailable.
	ErrDependencyMissing = errors.New("required dependency is missing")

	// ErrExtraction means a site's metadata, token or manifest was not found.
	ErrExtraction = errors.New("extraction failed")

	// ErrVerificationRequired means the remote service demands interactive verification.
	ErrVerificationRequired = errors.New("site verification required for this media source")

	// ErrNoFormats means extraction completed without any playable stream.
	ErrNoFormats = errors.New("no playable media sources found")

	// ErrNoEntries means a playlist result had no playable entries.
	ErrNoEntries = errors.New("no playable media entries found")

	// ErrCancelled means the caller aborted the download.
	ErrCancelled = errors.New("download cancelled")

	// ErrNoFile means the transfer finished without producing a file.
	ErrNoFile = errors.New("download completed but no media file was created")
)

// ExtractionError carries the extractor name and the missing signal.
type ExtractionError struct {
	Extractor string
	Reason    string
	Err       error
}

// NewExtractionError creates an ExtractionError wrapping ErrExtraction.
func NewExtractionError(extractor, reason string) *ExtractionError {
	return &ExtractionError{Extractor: extractor, Reason: reason, Err: ErrExtraction}
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Extractor, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
