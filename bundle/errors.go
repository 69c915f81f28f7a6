package bundle

import (
	"errors"
	"fmt"
)

var (
	// ErrImportFailed indicates local content could not be imported for sharing.
	ErrImportFailed = errors.New("bundle: import failed")
	// ErrDownloadFailed is the parent of every DownloadError.
	ErrDownloadFailed = errors.New("bundle: download failed")
	// ErrInvalidSequenceLength indicates a sequence with fewer than two entries.
	ErrInvalidSequenceLength = errors.New("bundle: invalid sequence length")
)

// Part names which content unit a download failed on.
type Part string

const (
	PartSequence Part = "sequence"
	PartMetadata Part = "metadata"
	PartPayload  Part = "payload"
	PartSingle   Part = "single"
)

// DownloadError reports a failed fetch of one part of a bundle.
type DownloadError struct {
	Part Part
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("bundle: download %s failed: %v", e.Part, e.Err)
}

// Unwrap exposes both ErrDownloadFailed and the underlying cause.
func (e *DownloadError) Unwrap() []error {
	return []error{ErrDownloadFailed, e.Err}
}

func downloadError(part Part, err error) error {
	return &DownloadError{Part: part, Err: err}
}
