package models

import (
	"time"
)

// AssetKind distinguishes page-addressed documents from time-addressed videos.
type AssetKind string

const (
	KindDocument AssetKind = "document"
	KindVideo    AssetKind = "video"
)

// AssetStatus is the ingestion state of a CourseAsset. Transitions are
// monotonic except for the explicit failed -> processing retry.
type AssetStatus string

const (
	StatusRegistered     AssetStatus = "registered"
	StatusProcessing     AssetStatus = "processing"
	StatusExtracted      AssetStatus = "extracted"
	StatusAudioExtracted AssetStatus = "audio_extracted"
	StatusTranscribing   AssetStatus = "transcribing"
	StatusTranscribed    AssetStatus = "transcribed"
	StatusChaptered      AssetStatus = "chaptered"
	StatusIndexed        AssetStatus = "indexed"
	StatusFailed         AssetStatus = "failed"
)

// Course carries the minimum the retrieval core needs from the CRUD layer:
// a scope id plus name/description for the chat system prompt and the
// asset-level index document.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CourseAsset is one registered source (document or video) owned by a course.
type CourseAsset struct {
	ID          string      `db:"id" json:"id"`
	CourseID    string      `db:"course_id" json:"course_id"`
	Kind        AssetKind   `db:"kind" json:"kind"`
	StorageKey  string      `db:"storage_key" json:"storage_key"`
	AudioKey    string      `db:"audio_key" json:"audio_key,omitempty"`
	FileName    string      `db:"file_name" json:"file_name"`
	MimeType    string      `db:"mime_type" json:"mime_type"`
	SizeBytes   int64       `db:"size_bytes" json:"size_bytes"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Status      AssetStatus `db:"status" json:"status"`
	// TranscriptionJobID dedupes duplicate provider callbacks for one job.
	TranscriptionJobID string    `db:"transcription_job_id" json:"-"`
	LastError          string    `db:"last_error" json:"last_error,omitempty"`
	Stale              bool      `db:"-" json:"stale,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// SourceUnit is the smallest addressable slice of an asset: a merged
// transcript cue (positions in seconds) or a document page (positions are the
// page number). Units of one asset are non-overlapping and ordered by Seq;
// re-extraction replaces the full set atomically.
type SourceUnit struct {
	ID        string  `db:"id" json:"id"`
	AssetID   string  `db:"asset_id" json:"asset_id"`
	Seq       int     `db:"seq" json:"seq"`
	StartPos  float64 `db:"start_pos" json:"start_pos"`
	EndPos    float64 `db:"end_pos" json:"end_pos"`
	Text      string  `db:"text" json:"text"`
	Language  string  `db:"language" json:"language,omitempty"`
	ChapterID string  `db:"chapter_id" json:"chapter_id,omitempty"`
}

// ChapterSource records chapter provenance.
type ChapterSource string

const (
	ChapterGenerated ChapterSource = "generated"
	ChapterManual    ChapterSource = "manual"
)

// Chapter is a named time range of a video asset. Chapters of one asset are
// non-overlapping and ordered by start.
type Chapter struct {
	ID       string        `db:"id" json:"id"`
	AssetID  string        `db:"asset_id" json:"asset_id"`
	StartSec float64       `db:"start_sec" json:"start_sec"`
	EndSec   float64       `db:"end_sec" json:"end_sec"`
	Title    string        `db:"title" json:"title"`
	Source   ChapterSource `db:"source" json:"source"`
}

// DocType is the index granularity of an IndexDocument.
type DocType string

const (
	DocAsset   DocType = "asset"
	DocChapter DocType = "chapter"
	DocSegment DocType = "segment"
)

// IndexDocument is one searchable unit in the per-course index. IDs are
// deterministic ("{docType}:{sourceID}") so re-indexing overwrites instead of
// duplicating.
type IndexDocument struct {
	ID        string
	CourseID  string
	AssetID   string
	ChapterID string
	DocType   DocType
	Kind      AssetKind
	Title     string
	Text      string
	StartPos  float64
	EndPos    float64
	Language  string
}

// RetrievalHit is an ephemeral search result. Score is a normalized
// higher-is-better similarity.
type RetrievalHit struct {
	ID        string
	DocType   DocType
	Kind      AssetKind
	AssetID   string
	ChapterID string
	Title     string
	Text      string
	StartPos  float64
	EndPos    float64
	Score     float64
}

// ContextWindow is an ephemeral group of proximate segment hits from one
// asset, expanded with neighboring SourceUnits.
type ContextWindow struct {
	AssetID      string
	Kind         AssetKind
	Title        string
	ChapterTitle string
	StartPos     float64
	EndPos       float64
	Text         string
	Score        float64
}

// Citation is the user-facing pointer back to the source for one window.
type Citation struct {
	Type         AssetKind `json:"type"`
	AssetID      string    `json:"asset_id"`
	Title        string    `json:"title"`
	Page         int       `json:"page,omitempty"`
	StartSec     float64   `json:"start_sec,omitempty"`
	EndSec       float64   `json:"end_sec,omitempty"`
	ChapterTitle string    `json:"chapter_title,omitempty"`
	Snippet      string    `json:"snippet"`
}

// TranscriptCue is a timed caption produced by the transcription provider.
type TranscriptCue struct {
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Text     string  `json:"text"`
}
