package retrieval

import (
	"strings"

	"github.com/classmate-app/classmate/internal/models"
)

// BuildCitations produces one citation per window, preserving window order.
// Document citations point at the first page of the window; video citations
// carry the time range and chapter title when known.
func BuildCitations(windows []models.ContextWindow, snippetMax int) []models.Citation {
	citations := make([]models.Citation, 0, len(windows))
	for _, w := range windows {
		c := models.Citation{
			Type:    w.Kind,
			AssetID: w.AssetID,
			Title:   w.Title,
			Snippet: Snippet(w.Text, snippetMax),
		}
		if w.Kind == models.KindVideo {
			c.StartSec = w.StartPos
			c.EndSec = w.EndPos
			c.ChapterTitle = w.ChapterTitle
		} else {
			c.Page = int(w.StartPos)
		}
		citations = append(citations, c)
	}
	return citations
}

// Snippet shortens text to at most max characters, cutting at a word
// boundary and marking the cut with an ellipsis.
func Snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := truncateRunes(text, max)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "…"
}
