package extract

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/models"
)

func TestTranscriptOrdersAndClampsCues(t *testing.T) {
	cues := []models.TranscriptCue{
		{StartSec: 10, EndSec: 20, Text: "second"},
		{StartSec: 0, EndSec: 11, Text: "first overlaps into second"},
		{StartSec: 19.5, EndSec: 30, Text: "third overlaps second"},
	}

	units, err := Transcript("asset-1", "en", cues)
	require.NoError(t, err)
	require.Len(t, units, 3)

	for i, u := range units {
		assert.Equal(t, i, u.Seq)
		assert.Equal(t, "asset-1", u.AssetID)
		assert.Equal(t, "en", u.Language)
	}

	// Units are disjoint: each starts no earlier than the previous end.
	for i := 1; i < len(units); i++ {
		assert.GreaterOrEqual(t, units[i].StartPos, units[i-1].EndPos)
	}
	assert.Equal(t, 11.0, units[1].StartPos)
	assert.Equal(t, 20.0, units[2].StartPos)
}

func TestTranscriptSkipsEmptyAndSwallowedCues(t *testing.T) {
	cues := []models.TranscriptCue{
		{StartSec: 0, EndSec: 10, Text: "kept"},
		{StartSec: 2, EndSec: 8, Text: "fully inside the previous cue"},
		{StartSec: 10, EndSec: 12, Text: "   "},
		{StartSec: 12, EndSec: 15, Text: "also kept"},
	}

	units, err := Transcript("asset-1", "", cues)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "kept", units[0].Text)
	assert.Equal(t, "also kept", units[1].Text)
}

func TestTranscriptRejectsBadInput(t *testing.T) {
	_, err := Transcript("asset-1", "", nil)
	var exErr *errs.ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "asset-1", exErr.AssetID)

	_, err = Transcript("asset-1", "", []models.TranscriptCue{{StartSec: 5, EndSec: 2, Text: "x"}})
	assert.ErrorAs(t, err, &exErr)

	_, err = Transcript("asset-1", "", []models.TranscriptCue{{StartSec: 0, EndSec: 4, Text: "  "}})
	assert.ErrorAs(t, err, &exErr)
}

func TestTranscriptRandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(40)
		cues := make([]models.TranscriptCue, n)
		pos := 0.0
		for i := range cues {
			start := pos + rng.Float64()*5
			end := start + 0.5 + rng.Float64()*10
			cues[i] = models.TranscriptCue{StartSec: start, EndSec: end, Text: "cue"}
			// Advance less than the cue length sometimes, producing overlaps.
			pos = start + rng.Float64()*(end-start)
		}
		rng.Shuffle(n, func(i, j int) { cues[i], cues[j] = cues[j], cues[i] })

		units, err := Transcript("asset-r", "", cues)
		require.NoError(t, err)

		sorted := sort.SliceIsSorted(units, func(i, j int) bool { return units[i].StartPos < units[j].StartPos })
		assert.True(t, sorted)
		for i := 1; i < len(units); i++ {
			assert.GreaterOrEqual(t, units[i].StartPos, units[i-1].EndPos)
		}
	}
}

func TestDocumentRejectsEmptyFile(t *testing.T) {
	_, err := Document("asset-1", nil, "application/pdf", "notes.pdf")
	var exErr *errs.ExtractionError
	assert.True(t, errors.As(err, &exErr))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.7 rest"), "", "file.bin"))
	assert.True(t, isPDF([]byte("junk"), "application/pdf", "file.bin"))
	assert.True(t, isPDF([]byte("junk"), "", "Slides.PDF"))
	assert.False(t, isPDF([]byte("junk"), "text/plain", "notes.txt"))
}
