// Package errs defines the failure taxonomy of the retrieval core.
// Ingestion errors are recorded on the asset; retrieval errors degrade to an
// empty result; only generation errors surface to the chat caller.
package errs

import (
	"errors"
	"fmt"
)

// ErrRetrievalTimeout marks an index query that exceeded its deadline. The
// retriever treats it as "no context", never as a chat failure.
var ErrRetrievalTimeout = errors.New("retrieval timed out")

// ExtractionError means the source bytes or transcript were unreadable or
// malformed. Reported on the asset, not retried automatically.
type ExtractionError struct {
	AssetID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for asset %s: %v", e.AssetID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TranscriptionError means the external transcription job failed. Retryable
// via explicit user action only.
type TranscriptionError struct {
	AssetID string
	JobID   string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription job %s failed for asset %s: %v", e.JobID, e.AssetID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// IndexError means the index store was unavailable. The ingestion step retries
// with backoff and does not advance until the upsert succeeds.
type IndexError struct {
	CourseID string
	Err      error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index store error for course %s: %v", e.CourseID, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// GenerationError means the language-model call failed. Surfaced to the caller
// as a retryable chat error, distinct from "no context found".
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
