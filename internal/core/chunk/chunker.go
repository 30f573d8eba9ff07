// Package chunk groups SourceUnits into retrieval-sized IndexDocuments at the
// three index granularities (asset, chapter, segment). Chunk boundaries are a
// pure function of the input, so re-chunking unchanged units reproduces the
// same documents and ids.
package chunk

import (
	"fmt"
	"strings"

	"github.com/classmate-app/classmate/internal/models"
)

type Config struct {
	// MaxChars caps one segment document; units merge up to it, so documents
	// land in the upper part of the target band.
	MaxChars int
	// MaxWindowSec bounds a merged window for time-addressed units.
	MaxWindowSec float64
	// ChapterTextCap bounds how much member-segment text a chapter document carries.
	ChapterTextCap int
}

func DefaultConfig() Config {
	return Config{MaxChars: 800, MaxWindowSec: 30, ChapterTextCap: 2000}
}

// Documents emits the full index document set for one asset: one asset-level
// document, one per chapter (if any), and the merged segment documents.
func Documents(cfg Config, asset *models.CourseAsset, units []models.SourceUnit, chapters []models.Chapter) []models.IndexDocument {
	docs := []models.IndexDocument{AssetDoc(asset)}
	docs = append(docs, ChapterDocs(cfg, asset, chapters, units)...)
	docs = append(docs, Segments(cfg, asset, units)...)
	return docs
}

// AssetDoc is the coarse routing document: title plus description.
func AssetDoc(asset *models.CourseAsset) models.IndexDocument {
	title := asset.Title
	if title == "" {
		title = asset.FileName
	}
	text := title
	if asset.Description != "" {
		text += "\n\n" + asset.Description
	}
	return models.IndexDocument{
		ID:       fmt.Sprintf("%s:%s", models.DocAsset, asset.ID),
		CourseID: asset.CourseID,
		AssetID:  asset.ID,
		DocType:  models.DocAsset,
		Kind:     asset.Kind,
		Title:    title,
		Text:     text,
	}
}

// ChapterDocs builds one document per chapter: the title, enriched with the
// concatenation of member unit text up to the cap.
func ChapterDocs(cfg Config, asset *models.CourseAsset, chapters []models.Chapter, units []models.SourceUnit) []models.IndexDocument {
	if len(chapters) == 0 {
		return nil
	}

	memberText := make(map[string]*strings.Builder, len(chapters))
	for _, u := range units {
		if u.ChapterID == "" || u.Text == "" {
			continue
		}
		b, ok := memberText[u.ChapterID]
		if !ok {
			b = &strings.Builder{}
			memberText[u.ChapterID] = b
		}
		if b.Len() >= cfg.ChapterTextCap {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(u.Text)
	}

	docs := make([]models.IndexDocument, 0, len(chapters))
	for _, ch := range chapters {
		text := ch.Title
		if b, ok := memberText[ch.ID]; ok {
			body := b.String()
			if len(body) > cfg.ChapterTextCap {
				body = body[:cfg.ChapterTextCap]
			}
			text = ch.Title + "\n\n" + body
		}
		docs = append(docs, models.IndexDocument{
			ID:        fmt.Sprintf("%s:%s", models.DocChapter, ch.ID),
			CourseID:  asset.CourseID,
			AssetID:   asset.ID,
			ChapterID: ch.ID,
			DocType:   models.DocChapter,
			Kind:      asset.Kind,
			Title:     ch.Title,
			Text:      text,
			StartPos:  ch.StartSec,
			EndPos:    ch.EndSec,
		})
	}
	return docs
}

// Segments merges adjacent units into the target size band without ever
// splitting a single unit across two documents. Merging also stops at chapter
// boundaries so every segment scopes to exactly one chapter.
func Segments(cfg Config, asset *models.CourseAsset, units []models.SourceUnit) []models.IndexDocument {
	var docs []models.IndexDocument
	var buf []models.SourceUnit
	var bufChars int

	flush := func() {
		if len(buf) == 0 {
			return
		}
		texts := make([]string, 0, len(buf))
		lang := ""
		for _, u := range buf {
			texts = append(texts, u.Text)
			if lang == "" {
				lang = u.Language
			}
		}
		docs = append(docs, models.IndexDocument{
			ID:        fmt.Sprintf("%s:%s:%d", models.DocSegment, asset.ID, len(docs)),
			CourseID:  asset.CourseID,
			AssetID:   asset.ID,
			ChapterID: buf[0].ChapterID,
			DocType:   models.DocSegment,
			Kind:      asset.Kind,
			Title:     asset.Title,
			Text:      strings.Join(texts, " "),
			StartPos:  buf[0].StartPos,
			EndPos:    buf[len(buf)-1].EndPos,
			Language:  lang,
		})
		buf = buf[:0]
		bufChars = 0
	}

	timeBased := asset.Kind == models.KindVideo

	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			// Blank pages stay addressable as units but carry nothing to search.
			continue
		}

		if len(buf) > 0 {
			overSize := bufChars+1+len(text) > cfg.MaxChars
			overWindow := timeBased && u.EndPos-buf[0].StartPos > cfg.MaxWindowSec
			chapterBreak := u.ChapterID != buf[0].ChapterID
			if overSize || overWindow || chapterBreak {
				flush()
			}
		}

		// A single oversized unit becomes its own document rather than
		// being split.
		u.Text = text
		buf = append(buf, u)
		if bufChars > 0 {
			bufChars++
		}
		bufChars += len(text)
	}
	flush()

	return docs
}
