package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/classmate-app/classmate/internal/models"
)

// pptxSlides extracts one unit per slide so citations can point at a slide
// number the way PDF citations point at a page. Speaker notes belong to their
// slide and ride along in the same unit. Slides with no text are kept empty,
// like image-only PDF pages.
func pptxSlides(assetID string, data []byte) ([]models.SourceUnit, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}

	slides := make(map[int]string)
	notes := make(map[int]string)
	for _, f := range zr.File {
		no, isNote, ok := slidePart(f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		text, err := drawingText(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if isNote {
			notes[no] = text
		} else {
			slides[no] = text
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx has no slides")
	}

	numbers := make([]int, 0, len(slides))
	for no := range slides {
		numbers = append(numbers, no)
	}
	sort.Ints(numbers)

	units := make([]models.SourceUnit, 0, len(numbers))
	for i, no := range numbers {
		text := strings.TrimSpace(slides[no])
		if note := strings.TrimSpace(notes[no]); note != "" {
			if text != "" {
				text += "\n"
			}
			text += note
		}
		units = append(units, models.SourceUnit{
			ID:       uuid.NewString(),
			AssetID:  assetID,
			Seq:      i,
			StartPos: float64(no),
			EndPos:   float64(no),
			Text:     text,
		})
	}
	return units, nil
}

// slidePart parses archive member names of the two per-slide parts:
// ppt/slides/slideN.xml and ppt/notesSlides/notesSlideN.xml.
func slidePart(name string) (no int, isNote, ok bool) {
	if rest, found := strings.CutPrefix(name, "ppt/slides/slide"); found {
		if no, ok = partNumber(rest); ok {
			return no, false, true
		}
	}
	if rest, found := strings.CutPrefix(name, "ppt/notesSlides/notesSlide"); found {
		if no, ok = partNumber(rest); ok {
			return no, true, true
		}
	}
	return 0, false, false
}

func partNumber(rest string) (int, bool) {
	numStr, found := strings.CutSuffix(rest, ".xml")
	if !found {
		return 0, false
	}
	no, err := strconv.Atoi(numStr)
	if err != nil || no < 1 {
		return 0, false
	}
	return no, true
}

// drawingText collects the text runs (<a:t>) of a DrawingML part, one line
// per paragraph.
func drawingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inRun := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inRun {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
