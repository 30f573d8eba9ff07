package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmate-app/classmate/internal/models"
)

func TestBuildCitations(t *testing.T) {
	windows := []models.ContextWindow{
		{
			AssetID: "vid-1", Kind: models.KindVideo, Title: "Lecture 3",
			ChapterTitle: "Group axioms", StartPos: 120, EndPos: 300,
			Text: "A group is a set with an associative operation.",
		},
		{
			AssetID: "doc-1", Kind: models.KindDocument, Title: "Syllabus",
			StartPos: 2, EndPos: 2, Text: "Week two covers limits.",
		},
	}

	citations := BuildCitations(windows, 240)
	require.Len(t, citations, 2)

	v := citations[0]
	assert.Equal(t, models.KindVideo, v.Type)
	assert.Equal(t, 120.0, v.StartSec)
	assert.Equal(t, 300.0, v.EndSec)
	assert.Equal(t, "Group axioms", v.ChapterTitle)
	assert.Zero(t, v.Page)

	d := citations[1]
	assert.Equal(t, models.KindDocument, d.Type)
	assert.Equal(t, 2, d.Page)
	assert.Zero(t, d.StartSec)
}

func TestSnippetTruncatesAtWordBoundary(t *testing.T) {
	text := "An abelian group is a group whose operation commutes"

	s := Snippet(text, 24)
	assert.Equal(t, "An abelian group is a…", s)
	assert.LessOrEqual(t, len(s), 24+len("…"))

	assert.Equal(t, "short", Snippet("short", 240))
	assert.Equal(t, "trimmed", Snippet("  trimmed  ", 240))
}

func TestSnippetNeverSplitsRunes(t *testing.T) {
	// No space inside the cut, so the byte cut must back off to a rune
	// boundary instead of emitting a broken code point.
	text := "Grüße_und_Verknüpfungen stets"
	for max := 2; max <= 20; max++ {
		s := Snippet(text, max)
		assert.True(t, utf8.ValidString(s), "max=%d produced invalid UTF-8: %q", max, s)
	}

	long := strings.Repeat("ü", 40) + " tail"
	assert.True(t, utf8.ValidString(capText(long, 15)))
}
