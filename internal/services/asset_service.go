// Package services holds the use-case layer between the HTTP handlers and
// the core: asset lifecycle on one side, question answering on the other.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/ingest"
	"github.com/classmate-app/classmate/internal/models"
)

// IndexProvider is the slice of the index registry the services need.
type IndexProvider interface {
	ForCourse(courseID string) index.Store
	Drop(courseID string)
}

// RegisterAssetRequest describes an already-uploaded file to ingest. Course
// name and description ride along so a first asset can create its course.
type RegisterAssetRequest struct {
	Kind        models.AssetKind `json:"kind"`
	StorageKey  string           `json:"storage_key"`
	FileName    string           `json:"file_name"`
	MimeType    string           `json:"mime_type"`
	SizeBytes   int64            `json:"size_bytes"`
	Title       string           `json:"title"`
	Description string           `json:"description"`

	CourseName        string `json:"course_name,omitempty"`
	CourseDescription string `json:"course_description,omitempty"`
}

func (r *RegisterAssetRequest) Validate() error {
	if r.Kind != models.KindDocument && r.Kind != models.KindVideo {
		return fmt.Errorf("kind must be %q or %q", models.KindDocument, models.KindVideo)
	}
	if r.StorageKey == "" {
		return fmt.Errorf("storage_key is required")
	}
	return nil
}

// AssetService owns the asset lifecycle: register, list, retry, delete.
type AssetService struct {
	db         core.DbClient
	indexes    IndexProvider
	dispatcher ingest.Dispatcher
	staleAfter time.Duration
}

func NewAssetService(db core.DbClient, indexes IndexProvider, dispatcher ingest.Dispatcher, staleAfter time.Duration) *AssetService {
	return &AssetService{db: db, indexes: indexes, dispatcher: dispatcher, staleAfter: staleAfter}
}

// Register stores the asset as registered and enqueues ingestion. The course
// row is created on first use.
func (s *AssetService) Register(ctx context.Context, courseID string, req *RegisterAssetRequest) (*models.CourseAsset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	course := &models.Course{ID: courseID, Name: req.CourseName, Description: req.CourseDescription}
	if err := s.db.EnsureCourse(ctx, course); err != nil {
		return nil, err
	}

	asset := &models.CourseAsset{
		ID:          uuid.NewString(),
		CourseID:    courseID,
		Kind:        req.Kind,
		StorageKey:  req.StorageKey,
		FileName:    req.FileName,
		MimeType:    req.MimeType,
		SizeBytes:   req.SizeBytes,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.StatusRegistered,
	}
	if err := s.db.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}

	job := ingest.Job{AssetID: asset.ID, Kind: asset.Kind, Stage: ingest.StageProcess}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		// The asset stays registered; a retry can pick it up.
		s.failRegistered(ctx, asset.ID, err)
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("asset_id", asset.ID).Str("course_id", courseID).Str("kind", string(asset.Kind)).Msg("asset registered")
	return asset, nil
}

func (s *AssetService) failRegistered(ctx context.Context, assetID string, cause error) {
	if err := s.db.MarkAssetFailed(ctx, assetID, "enqueue: "+cause.Error()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("asset_id", assetID).Msg("could not mark asset failed")
	}
}

// List returns the course's assets with a staleness flag on any asset stuck
// in a transient state past the configured age.
func (s *AssetService) List(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	assets, err := s.db.ListAssetsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	stale, err := s.db.ListStaleAssets(ctx, s.staleAfter)
	if err != nil {
		return nil, err
	}
	staleIDs := make(map[string]struct{}, len(stale))
	for _, a := range stale {
		staleIDs[a.ID] = struct{}{}
	}
	for i := range assets {
		_, assets[i].Stale = staleIDs[assets[i].ID]
	}
	return assets, nil
}

// Retry re-enqueues a stuck asset. Failed assets restart the full ingest;
// assets that extracted or transcribed but never reached indexed (a worker
// crash after the async stage completed) resume with an index job. Assets in
// any other state are left alone.
func (s *AssetService) Retry(ctx context.Context, assetID string) (*models.CourseAsset, error) {
	asset, err := s.db.GetAssetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, nil
	}

	job := ingest.Job{AssetID: asset.ID, Kind: asset.Kind}
	switch asset.Status {
	case models.StatusFailed:
		job.Stage = ingest.StageProcess
	case models.StatusExtracted, models.StatusTranscribed, models.StatusChaptered:
		job.Stage = ingest.StageIndex
	default:
		return nil, fmt.Errorf("asset %s is %s, only failed or stuck assets can be retried", assetID, asset.Status)
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}
	return asset, nil
}

// Delete removes the asset's index documents first, then the rows. A crash
// in between leaves only unreferenced rows, never dangling index hits.
func (s *AssetService) Delete(ctx context.Context, assetID string) error {
	asset, err := s.db.GetAssetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	if err := s.indexes.ForCourse(asset.CourseID).DeleteByAsset(ctx, assetID); err != nil {
		return err
	}
	return s.db.DeleteAsset(ctx, assetID)
}

// DeleteCourse removes the course, its assets, and its index scope.
func (s *AssetService) DeleteCourse(ctx context.Context, courseID string) error {
	assets, err := s.db.ListAssetsByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	store := s.indexes.ForCourse(courseID)
	for _, a := range assets {
		if err := store.DeleteByAsset(ctx, a.ID); err != nil {
			return err
		}
	}
	if err := s.db.DeleteCourse(ctx, courseID); err != nil {
		return err
	}
	s.indexes.Drop(courseID)
	return nil
}
