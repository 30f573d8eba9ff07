package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/ingest"
	"github.com/classmate-app/classmate/internal/models"
)

type fakeDB struct {
	core.DbClient
	courses map[string]*models.Course
	assets  map[string]*models.CourseAsset
	stale   []models.CourseAsset
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		courses: make(map[string]*models.Course),
		assets:  make(map[string]*models.CourseAsset),
	}
}

func (db *fakeDB) EnsureCourse(ctx context.Context, course *models.Course) error {
	if _, ok := db.courses[course.ID]; !ok {
		cp := *course
		db.courses[course.ID] = &cp
	}
	return nil
}

func (db *fakeDB) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	c, ok := db.courses[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (db *fakeDB) DeleteCourse(ctx context.Context, id string) error {
	delete(db.courses, id)
	return nil
}

func (db *fakeDB) CreateAsset(ctx context.Context, asset *models.CourseAsset) error {
	cp := *asset
	db.assets[asset.ID] = &cp
	return nil
}

func (db *fakeDB) GetAssetByID(ctx context.Context, id string) (*models.CourseAsset, error) {
	a, ok := db.assets[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (db *fakeDB) ListAssetsByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	var out []models.CourseAsset
	for _, a := range db.assets {
		if a.CourseID == courseID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (db *fakeDB) DeleteAsset(ctx context.Context, id string) error {
	delete(db.assets, id)
	return nil
}

func (db *fakeDB) ListStaleAssets(ctx context.Context, olderThan time.Duration) ([]models.CourseAsset, error) {
	return db.stale, nil
}

func (db *fakeDB) MarkAssetFailed(ctx context.Context, id string, msg string) error {
	if a, ok := db.assets[id]; ok {
		a.Status = models.StatusFailed
		a.LastError = msg
	}
	return nil
}

type fakeStore struct {
	index.Store
	deleted []string
}

func (s *fakeStore) DeleteByAsset(ctx context.Context, assetID string) error {
	s.deleted = append(s.deleted, assetID)
	return nil
}

type fakeIndexes struct {
	store   *fakeStore
	dropped []string
}

func (p *fakeIndexes) ForCourse(courseID string) index.Store { return p.store }
func (p *fakeIndexes) Drop(courseID string)                  { p.dropped = append(p.dropped, courseID) }

type fakeDispatcher struct {
	jobs []ingest.Job
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job ingest.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type fakeRetriever struct {
	windows []models.ContextWindow
	err     error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, courseID, query string) ([]models.ContextWindow, error) {
	return r.windows, r.err
}

type fakeLLM struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newAssetService(db *fakeDB, idx *fakeIndexes, disp *fakeDispatcher) *AssetService {
	return NewAssetService(db, idx, disp, 30*time.Minute)
}

func TestRegisterCreatesCourseAndEnqueues(t *testing.T) {
	db := newFakeDB()
	disp := &fakeDispatcher{}
	svc := newAssetService(db, &fakeIndexes{store: &fakeStore{}}, disp)

	req := &RegisterAssetRequest{
		Kind: models.KindVideo, StorageKey: "c1/lecture.mp4",
		FileName: "lecture.mp4", Title: "Lecture 1", CourseName: "Algebra",
	}
	asset, err := svc.Register(context.Background(), "course-1", req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRegistered, asset.Status)
	assert.Equal(t, "Algebra", db.courses["course-1"].Name)
	require.Len(t, disp.jobs, 1)
	assert.Equal(t, asset.ID, disp.jobs[0].AssetID)
	assert.Equal(t, ingest.StageProcess, disp.jobs[0].Stage)
}

func TestRegisterValidation(t *testing.T) {
	svc := newAssetService(newFakeDB(), &fakeIndexes{store: &fakeStore{}}, &fakeDispatcher{})

	_, err := svc.Register(context.Background(), "course-1", &RegisterAssetRequest{Kind: "podcast", StorageKey: "k"})
	assert.Error(t, err)

	_, err = svc.Register(context.Background(), "course-1", &RegisterAssetRequest{Kind: models.KindDocument})
	assert.Error(t, err)
}

func TestRegisterEnqueueFailureMarksAsset(t *testing.T) {
	db := newFakeDB()
	disp := &fakeDispatcher{err: errors.New("broker down")}
	svc := newAssetService(db, &fakeIndexes{store: &fakeStore{}}, disp)

	_, err := svc.Register(context.Background(), "course-1", &RegisterAssetRequest{
		Kind: models.KindDocument, StorageKey: "c1/notes.pdf",
	})
	require.Error(t, err)

	require.Len(t, db.assets, 1)
	for _, a := range db.assets {
		assert.Equal(t, models.StatusFailed, a.Status)
	}
}

func TestRetryFailedAndStuckAssets(t *testing.T) {
	db := newFakeDB()
	db.assets["a1"] = &models.CourseAsset{ID: "a1", Kind: models.KindDocument, Status: models.StatusFailed}
	db.assets["a2"] = &models.CourseAsset{ID: "a2", Kind: models.KindDocument, Status: models.StatusIndexed}
	db.assets["a3"] = &models.CourseAsset{ID: "a3", Kind: models.KindVideo, Status: models.StatusTranscribed}
	disp := &fakeDispatcher{}
	svc := newAssetService(db, &fakeIndexes{store: &fakeStore{}}, disp)

	asset, err := svc.Retry(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", asset.ID)
	require.Len(t, disp.jobs, 1)
	assert.Equal(t, ingest.StageProcess, disp.jobs[0].Stage)

	_, err = svc.Retry(context.Background(), "a2")
	assert.Error(t, err)
	assert.Len(t, disp.jobs, 1, "no job enqueued for an indexed asset")

	// A transcript landed but the index job never ran; retry resumes it.
	asset, err = svc.Retry(context.Background(), "a3")
	require.NoError(t, err)
	assert.Equal(t, "a3", asset.ID)
	require.Len(t, disp.jobs, 2)
	assert.Equal(t, ingest.StageIndex, disp.jobs[1].Stage)

	missing, err := svc.Retry(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteRemovesIndexBeforeRows(t *testing.T) {
	db := newFakeDB()
	db.assets["a1"] = &models.CourseAsset{ID: "a1", CourseID: "course-1", Status: models.StatusIndexed}
	db.assets["a2"] = &models.CourseAsset{ID: "a2", CourseID: "course-1", Status: models.StatusIndexed}
	idx := &fakeIndexes{store: &fakeStore{}}
	svc := newAssetService(db, idx, &fakeDispatcher{})

	require.NoError(t, svc.Delete(context.Background(), "a1"))
	assert.Equal(t, []string{"a1"}, idx.store.deleted)
	assert.NotContains(t, db.assets, "a1")

	// the sibling asset and its index docs are untouched
	assert.Contains(t, db.assets, "a2")
	assert.NotContains(t, idx.store.deleted, "a2")
}

func TestDeleteCourseDropsIndexScope(t *testing.T) {
	db := newFakeDB()
	db.courses["course-1"] = &models.Course{ID: "course-1"}
	db.assets["a1"] = &models.CourseAsset{ID: "a1", CourseID: "course-1"}
	idx := &fakeIndexes{store: &fakeStore{}}
	svc := newAssetService(db, idx, &fakeDispatcher{})

	require.NoError(t, svc.DeleteCourse(context.Background(), "course-1"))
	assert.Equal(t, []string{"a1"}, idx.store.deleted)
	assert.Equal(t, []string{"course-1"}, idx.dropped)
	assert.NotContains(t, db.courses, "course-1")
}

func TestListFlagsStaleAssets(t *testing.T) {
	db := newFakeDB()
	db.assets["a1"] = &models.CourseAsset{ID: "a1", CourseID: "course-1", Status: models.StatusTranscribing}
	db.assets["a2"] = &models.CourseAsset{ID: "a2", CourseID: "course-1", Status: models.StatusIndexed}
	db.stale = []models.CourseAsset{{ID: "a1"}}
	svc := newAssetService(db, &fakeIndexes{store: &fakeStore{}}, &fakeDispatcher{})

	assets, err := svc.List(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, assets, 2)

	byID := map[string]models.CourseAsset{}
	for _, a := range assets {
		byID[a.ID] = a
	}
	assert.True(t, byID["a1"].Stale)
	assert.False(t, byID["a2"].Stale)
}

func newChatService(db *fakeDB, r Retriever, llm core.LLMProvider) *ChatService {
	return NewChatService(db, r, llm, 5, 12, 240, time.Minute)
}

func TestAnswerWithContext(t *testing.T) {
	db := newFakeDB()
	db.courses["course-1"] = &models.Course{ID: "course-1", Name: "Algebra"}
	retriever := &fakeRetriever{windows: []models.ContextWindow{
		{AssetID: "vid-1", Kind: models.KindVideo, Title: "Lecture 3", StartPos: 120, EndPos: 300,
			Text: "a group is a set with an operation", Score: 0.8},
	}}
	llm := &fakeLLM{reply: "A group is a set with an associative operation."}
	svc := newChatService(db, retriever, llm)

	ans, err := svc.Answer(context.Background(), "course-1", "what is a group", nil)
	require.NoError(t, err)

	assert.False(t, ans.NoContext)
	assert.Equal(t, "A group is a set with an associative operation.", ans.Answer)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, models.KindVideo, ans.Citations[0].Type)
	assert.Equal(t, 120.0, ans.Citations[0].StartSec)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "a group is a set with an operation")
	assert.Contains(t, llm.prompts[0], "Question: what is a group")
}

func TestAnswerNoContext(t *testing.T) {
	db := newFakeDB()
	db.courses["course-1"] = &models.Course{ID: "course-1", Name: "Algebra"}
	svc := newChatService(db, &fakeRetriever{}, &fakeLLM{reply: "Nothing in the course covers that."})

	ans, err := svc.Answer(context.Background(), "course-1", "who won the world cup", nil)
	require.NoError(t, err)
	assert.True(t, ans.NoContext)
	assert.Empty(t, ans.Citations)
}

func TestAnswerRetrievalFailureDegrades(t *testing.T) {
	// Any retrieval-side error yields a no-context answer; the chat turn
	// never fails because the index was unreachable.
	cases := []struct {
		name string
		err  error
	}{
		{"timeout", errs.ErrRetrievalTimeout},
		{"index error", &errs.IndexError{CourseID: "course-1", Err: errors.New("connection refused")}},
		{"embedding error", errors.New("embed texts: quota exceeded")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newFakeDB()
			db.courses["course-1"] = &models.Course{ID: "course-1", Name: "Algebra"}
			retriever := &fakeRetriever{err: tc.err}
			svc := newChatService(db, retriever, &fakeLLM{reply: "The index is unavailable right now."})

			ans, err := svc.Answer(context.Background(), "course-1", "what is a ring", nil)
			require.NoError(t, err)
			assert.True(t, ans.NoContext)
			assert.Empty(t, ans.Citations)
		})
	}
}

func TestAnswerGenerationFailure(t *testing.T) {
	db := newFakeDB()
	db.courses["course-1"] = &models.Course{ID: "course-1", Name: "Algebra"}
	retriever := &fakeRetriever{windows: []models.ContextWindow{{AssetID: "a1", Text: "x", Score: 0.7}}}
	svc := newChatService(db, retriever, &fakeLLM{err: errors.New("model overloaded")})

	_, err := svc.Answer(context.Background(), "course-1", "what is a field", nil)
	var genErr *errs.GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestAnswerUnknownCourse(t *testing.T) {
	svc := newChatService(newFakeDB(), &fakeRetriever{}, &fakeLLM{})
	_, err := svc.Answer(context.Background(), "ghost", "anything", nil)
	assert.Error(t, err)
}

func TestTopWindowsPerAsset(t *testing.T) {
	windows := []models.ContextWindow{
		{AssetID: "a1", Score: 0.9},
		{AssetID: "a1", Score: 0.8},
		{AssetID: "a2", Score: 0.7},
		{AssetID: "a3", Score: 0.6},
	}
	kept := topWindowsPerAsset(windows, 2)
	require.Len(t, kept, 2)
	assert.Equal(t, "a1", kept[0].AssetID)
	assert.Equal(t, "a2", kept[1].AssetID)
}

func TestUserPromptCapsHistory(t *testing.T) {
	svc := newChatService(newFakeDB(), &fakeRetriever{}, &fakeLLM{})
	svc.maxHistory = 2

	history := []ChatMessage{
		{Role: "user", Content: "oldest"},
		{Role: "assistant", Content: "middle"},
		{Role: "user", Content: "newest"},
	}
	prompt := svc.userPrompt("next question", history, nil)
	assert.NotContains(t, prompt, "oldest")
	assert.Contains(t, prompt, "middle")
	assert.Contains(t, prompt, "newest")
}
