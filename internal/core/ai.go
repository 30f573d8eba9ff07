package core

import (
	"context"

	"github.com/classmate-app/classmate/internal/models"
)

// EmbeddingProvider turns texts into vectors for the index store.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider is the external answer-generation capability. Treated as a
// black box with a timeout; failures map to errs.GenerationError upstream.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// Transcriber submits audio to the external transcription provider. Results
// arrive out of band (webhook or polling) as timed cues keyed by job id.
type Transcriber interface {
	Submit(ctx context.Context, audioURL string, language string) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*TranscriptionResult, error)
}

// TranscriptionResult is the provider's job status snapshot.
type TranscriptionResult struct {
	JobID    string
	Done     bool
	Failed   bool
	Error    string
	Language string
	Cues     []models.TranscriptCue
}

// Chapterer proposes named time ranges for a transcribed video. Optional:
// a nil Chapterer skips the chaptered stage, and a chaptering failure never
// blocks segment indexing.
type Chapterer interface {
	Chapters(ctx context.Context, asset *models.CourseAsset, units []models.SourceUnit) ([]models.Chapter, error)
}
