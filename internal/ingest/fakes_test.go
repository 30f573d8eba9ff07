package ingest

import (
	"context"
	"time"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/models"
)

// fakeDB covers the slice of core.DbClient the pipeline touches; anything
// else panics through the embedded nil interface.
type fakeDB struct {
	core.DbClient
	assets       map[string]*models.CourseAsset
	units        map[string][]models.SourceUnit
	chapters     map[string][]models.Chapter
	unitWrites   int
	failMessages map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		assets:       make(map[string]*models.CourseAsset),
		units:        make(map[string][]models.SourceUnit),
		chapters:     make(map[string][]models.Chapter),
		failMessages: make(map[string]string),
	}
}

func (db *fakeDB) GetAssetByID(ctx context.Context, id string) (*models.CourseAsset, error) {
	a, ok := db.assets[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (db *fakeDB) GetAssetByJobID(ctx context.Context, jobID string) (*models.CourseAsset, error) {
	for _, a := range db.assets {
		if a.TranscriptionJobID == jobID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *fakeDB) TransitionAssetStatus(ctx context.Context, id string, from, to models.AssetStatus) (bool, error) {
	a, ok := db.assets[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (db *fakeDB) MarkAssetFailed(ctx context.Context, id string, msg string) error {
	if a, ok := db.assets[id]; ok && a.Status != models.StatusIndexed {
		a.Status = models.StatusFailed
		a.LastError = msg
	}
	db.failMessages[id] = msg
	return nil
}

func (db *fakeDB) SetAssetAudioKey(ctx context.Context, id string, audioKey string) error {
	db.assets[id].AudioKey = audioKey
	return nil
}

func (db *fakeDB) SetAssetTranscriptionJob(ctx context.Context, id string, jobID string) error {
	db.assets[id].TranscriptionJobID = jobID
	return nil
}

func (db *fakeDB) ReplaceSourceUnits(ctx context.Context, assetID string, units []models.SourceUnit) error {
	db.units[assetID] = units
	db.unitWrites++
	return nil
}

func (db *fakeDB) ListSourceUnits(ctx context.Context, assetID string) ([]models.SourceUnit, error) {
	return db.units[assetID], nil
}

func (db *fakeDB) ReplaceChapters(ctx context.Context, assetID string, chapters []models.Chapter) error {
	db.chapters[assetID] = chapters
	return nil
}

func (db *fakeDB) ListChapters(ctx context.Context, assetID string) ([]models.Chapter, error) {
	return db.chapters[assetID], nil
}

func (db *fakeDB) AssignUnitChapters(ctx context.Context, assetID string) error { return nil }

// fakeStore records upserts and prunes. failures makes the next N upserts
// return a retryable index error.
type fakeStore struct {
	docs     map[string]models.IndexDocument
	upserts  int
	failures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]models.IndexDocument)}
}

func (s *fakeStore) Upsert(ctx context.Context, docs []models.IndexDocument) error {
	if s.failures > 0 {
		s.failures--
		return &errs.IndexError{CourseID: "course-1", Err: context.DeadlineExceeded}
	}
	s.upserts++
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return nil
}

func (s *fakeStore) DeleteByAsset(ctx context.Context, assetID string) error {
	for id, d := range s.docs {
		if d.AssetID == assetID {
			delete(s.docs, id)
		}
	}
	return nil
}

func (s *fakeStore) PruneAsset(ctx context.Context, assetID string, keep []string) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	for id, d := range s.docs {
		if d.AssetID != assetID {
			continue
		}
		if _, ok := keepSet[id]; !ok {
			delete(s.docs, id)
		}
	}
	return nil
}

func (s *fakeStore) Query(ctx context.Context, text string, f index.Filter) ([]models.RetrievalHit, error) {
	return nil, nil
}

type fakeIndexes struct{ store *fakeStore }

func (p *fakeIndexes) ForCourse(courseID string) index.Store { return p.store }

// fakeDispatcher records dispatched jobs; tests feed them back through the
// pipeline the way a queue worker would.
type fakeDispatcher struct {
	jobs []Job
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.jobs = append(d.jobs, job)
	return nil
}

// fakeObjects serves file bytes by key.
type fakeObjects struct {
	core.ObjectClient
	files map[string][]byte
}

func (o *fakeObjects) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	return o.files[key], nil
}

func (o *fakeObjects) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

type fakeAudio struct{}

func (fakeAudio) ExtractAudio(ctx context.Context, bucket, videoKey string) (string, error) {
	return videoKey + ".audio.wav", nil
}

type fakeTranscriber struct {
	jobID   string
	results map[string]*core.TranscriptionResult
}

func (t *fakeTranscriber) Submit(ctx context.Context, audioURL, language string) (string, error) {
	return t.jobID, nil
}

func (t *fakeTranscriber) Poll(ctx context.Context, jobID string) (*core.TranscriptionResult, error) {
	if r, ok := t.results[jobID]; ok {
		return r, nil
	}
	return &core.TranscriptionResult{JobID: jobID}, nil
}
