package core

import (
	"context"
	"io"
	"time"

	"github.com/classmate-app/classmate/internal/models"
)

// DbClient defines all persistence operations the retrieval core needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	EnsureCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	DeleteCourse(ctx context.Context, id string) error

	CreateAsset(ctx context.Context, asset *models.CourseAsset) error
	GetAssetByID(ctx context.Context, id string) (*models.CourseAsset, error)
	GetAssetByJobID(ctx context.Context, jobID string) (*models.CourseAsset, error)
	ListAssetsByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error)
	DeleteAsset(ctx context.Context, id string) error

	// TransitionAssetStatus is a compare-and-set: it moves the asset from
	// `from` to `to` only if it is still in `from`, and reports whether the
	// row changed. This is the single-writer guard for the state machine.
	TransitionAssetStatus(ctx context.Context, id string, from, to models.AssetStatus) (bool, error)
	MarkAssetFailed(ctx context.Context, id string, msg string) error
	SetAssetAudioKey(ctx context.Context, id string, audioKey string) error
	SetAssetTranscriptionJob(ctx context.Context, id string, jobID string) error
	ListAssetsByStatus(ctx context.Context, status models.AssetStatus) ([]models.CourseAsset, error)
	ListStaleAssets(ctx context.Context, olderThan time.Duration) ([]models.CourseAsset, error)

	// ReplaceSourceUnits swaps the full unit set of an asset in one
	// transaction so re-extraction never leaves a partial mix.
	ReplaceSourceUnits(ctx context.Context, assetID string, units []models.SourceUnit) error
	ListSourceUnits(ctx context.Context, assetID string) ([]models.SourceUnit, error)
	ListSourceUnitsInRange(ctx context.Context, assetID string, lo, hi float64) ([]models.SourceUnit, error)

	ReplaceChapters(ctx context.Context, assetID string, chapters []models.Chapter) error
	ListChapters(ctx context.Context, assetID string) ([]models.Chapter, error)
	// AssignUnitChapters sets each unit's chapter to the one with maximal
	// time overlap, or none.
	AssignUnitChapters(ctx context.Context, assetID string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage. The core
// only ever fetches and stores bytes by key; presigning is external.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// AudioExtractor produces a stored audio rendition of a video asset, returning
// the storage key of the result.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, bucket, videoKey string) (audioKey string, err error)
}
