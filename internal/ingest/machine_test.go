package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmate-app/classmate/internal/models"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatusRegistered, models.StatusProcessing))
	assert.True(t, CanTransition(models.StatusProcessing, models.StatusExtracted))
	assert.True(t, CanTransition(models.StatusProcessing, models.StatusAudioExtracted))
	assert.True(t, CanTransition(models.StatusTranscribed, models.StatusIndexed))
	assert.True(t, CanTransition(models.StatusTranscribed, models.StatusChaptered))
	assert.True(t, CanTransition(models.StatusFailed, models.StatusProcessing))
	assert.True(t, CanTransition(models.StatusIndexed, models.StatusProcessing))

	// No skipping stages, no moving backwards.
	assert.False(t, CanTransition(models.StatusRegistered, models.StatusIndexed))
	assert.False(t, CanTransition(models.StatusProcessing, models.StatusTranscribed))
	assert.False(t, CanTransition(models.StatusIndexed, models.StatusFailed))
	assert.False(t, CanTransition(models.StatusExtracted, models.StatusProcessing))
}

func TestEveryStateCanFailExceptIndexed(t *testing.T) {
	transient := []models.AssetStatus{
		models.StatusRegistered, models.StatusProcessing, models.StatusExtracted,
		models.StatusAudioExtracted, models.StatusTranscribing,
		models.StatusTranscribed, models.StatusChaptered,
	}
	for _, s := range transient {
		assert.True(t, CanTransition(s, models.StatusFailed), "from %s", s)
	}
	assert.False(t, CanTransition(models.StatusIndexed, models.StatusFailed))
	assert.False(t, CanTransition(models.StatusFailed, models.StatusFailed))
}

func TestAdvanceRejectsIllegalEdge(t *testing.T) {
	db := newFakeDB()
	db.assets["a1"] = &models.CourseAsset{ID: "a1", Status: models.StatusRegistered}

	_, err := Advance(context.Background(), db, "a1", models.StatusRegistered, models.StatusIndexed)
	require.Error(t, err)
	assert.Equal(t, models.StatusRegistered, db.assets["a1"].Status)
}

func TestAdvanceIsCompareAndSet(t *testing.T) {
	db := newFakeDB()
	db.assets["a1"] = &models.CourseAsset{ID: "a1", Status: models.StatusTranscribing}

	ok, err := Advance(context.Background(), db, "a1", models.StatusTranscribing, models.StatusTranscribed)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second identical transition finds the asset already moved.
	ok, err = Advance(context.Background(), db, "a1", models.StatusTranscribing, models.StatusTranscribed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.StatusTranscribed, db.assets["a1"].Status)
}
