// Package extract converts stored course files and provider transcripts into
// ordered, non-overlapping SourceUnits. Extraction is restartable: re-running
// it replaces the prior unit set.
package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"code.sajari.com/docconv"
	"github.com/google/uuid"
	lpdf "github.com/ledongthuc/pdf"

	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/models"
)

// Document extracts page-addressed units from a stored document. PDFs yield
// one unit per page; a page with no extractable text becomes an empty unit so
// page numbering stays addressable (no OCR). PPTX yields one unit per slide
// with speaker notes attached. Anything else goes through docconv as a single
// page-1 unit.
func Document(assetID string, data []byte, mimeType, fileName string) ([]models.SourceUnit, error) {
	if len(data) == 0 {
		return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("empty file %q", fileName)}
	}

	if isPDF(data, mimeType, fileName) {
		units, err := pdfPages(assetID, data)
		if err != nil {
			return nil, &errs.ExtractionError{AssetID: assetID, Err: err}
		}
		return units, nil
	}

	if isPPTX(data, mimeType, fileName) {
		units, err := pptxSlides(assetID, data)
		if err != nil {
			return nil, &errs.ExtractionError{AssetID: assetID, Err: err}
		}
		return units, nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentTypeFor(mimeType, fileName), false)
	if err != nil {
		return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("docconv: %w", err)}
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("no text extracted from %q", fileName)}
	}

	return []models.SourceUnit{{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		Seq:      0,
		StartPos: 1,
		EndPos:   1,
		Text:     text,
	}}, nil
}

// Transcript converts provider cues into ordered, non-overlapping units.
// Cues are passed through as-is apart from ordering and overlap clamping;
// merging into retrieval-sized windows is the chunker's job.
func Transcript(assetID, language string, cues []models.TranscriptCue) ([]models.SourceUnit, error) {
	if len(cues) == 0 {
		return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("transcript has no cues")}
	}

	sorted := make([]models.TranscriptCue, len(cues))
	copy(sorted, cues)
	sortCues(sorted)

	units := make([]models.SourceUnit, 0, len(sorted))
	prevEnd := 0.0
	for _, c := range sorted {
		start, end := c.StartSec, c.EndSec
		if end < start {
			return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("cue ends (%.3f) before it starts (%.3f)", end, start)}
		}
		// Clamp small provider overlaps so units stay disjoint.
		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		units = append(units, models.SourceUnit{
			ID:       uuid.NewString(),
			AssetID:  assetID,
			Seq:      len(units),
			StartPos: start,
			EndPos:   end,
			Text:     text,
			Language: language,
		})
		prevEnd = end
	}
	if len(units) == 0 {
		return nil, &errs.ExtractionError{AssetID: assetID, Err: fmt.Errorf("transcript has no usable cues")}
	}
	return units, nil
}

func pdfPages(assetID string, data []byte) ([]models.SourceUnit, error) {
	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	units := make([]models.SourceUnit, 0, total)
	for pageNo := 1; pageNo <= total; pageNo++ {
		page := reader.Page(pageNo)
		text := ""
		if !page.V.IsNull() {
			// Image-only pages yield no text; keep them as empty units so
			// page numbers stay citable.
			if t, err := page.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(t)
			}
		}
		units = append(units, models.SourceUnit{
			ID:       uuid.NewString(),
			AssetID:  assetID,
			Seq:      pageNo - 1,
			StartPos: float64(pageNo),
			EndPos:   float64(pageNo),
			Text:     text,
		})
	}
	return units, nil
}

func isPDF(data []byte, mimeType, fileName string) bool {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return true
	}
	if strings.Contains(strings.ToLower(mimeType), "pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(fileName), ".pdf")
}

func isPPTX(data []byte, mimeType, fileName string) bool {
	// PPTX is a zip; without the magic it is something mislabeled.
	if !bytes.HasPrefix(data, []byte("PK")) {
		return false
	}
	if strings.Contains(strings.ToLower(mimeType), "presentationml") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(fileName), ".pptx")
}

func contentTypeFor(mimeType, fileName string) string {
	if mimeType != "" {
		return mimeType
	}
	return docconv.MimeTypeByExtension(fileName)
}

func sortCues(cues []models.TranscriptCue) {
	sort.Slice(cues, func(i, j int) bool {
		if cues[i].StartSec != cues[j].StartSec {
			return cues[i].StartSec < cues[j].StartSec
		}
		return cues[i].EndSec < cues[j].EndSec
	})
}
