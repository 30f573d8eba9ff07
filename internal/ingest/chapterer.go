package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

const chaptererSystemPrompt = `You segment lecture transcripts into chapters.
Given a transcript with [start-end] second markers, reply with ONLY a JSON array:
[{"title": "...", "start_sec": 0, "end_sec": 120}, ...]
Chapters must be in order, non-overlapping, and cover coherent topics.
Use 3 to 10 chapters. Titles are short noun phrases.`

// transcriptPromptCap bounds the transcript text sent for chaptering.
const transcriptPromptCap = 24000

// LLMChapterer asks the generation model to segment a transcript into named
// time ranges. Output is validated and clamped; anything unusable is an error
// and the caller indexes without chapters.
type LLMChapterer struct {
	llm core.LLMProvider
}

func NewLLMChapterer(llm core.LLMProvider) *LLMChapterer {
	return &LLMChapterer{llm: llm}
}

type chapterProposal struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

func (c *LLMChapterer) Chapters(ctx context.Context, asset *models.CourseAsset, units []models.SourceUnit) ([]models.Chapter, error) {
	if len(units) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, u := range units {
		line := fmt.Sprintf("[%.0f-%.0f] %s\n", u.StartPos, u.EndPos, u.Text)
		if sb.Len()+len(line) > transcriptPromptCap {
			break
		}
		sb.WriteString(line)
	}

	raw, err := c.llm.Generate(ctx, chaptererSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("generate chapters: %w", err)
	}

	proposals, err := parseChapterJSON(raw)
	if err != nil {
		return nil, err
	}

	duration := units[len(units)-1].EndPos
	return buildChapters(asset.ID, proposals, duration), nil
}

// parseChapterJSON tolerates prose or code fences around the JSON array.
func parseChapterJSON(raw string) ([]chapterProposal, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in chapter response")
	}

	var proposals []chapterProposal
	if err := json.Unmarshal([]byte(raw[start:end+1]), &proposals); err != nil {
		return nil, fmt.Errorf("parse chapter response: %w", err)
	}
	return proposals, nil
}

// buildChapters sorts, clamps to [0, duration], and drops overlaps and empty
// ranges so the stored set always satisfies the chapter invariants.
func buildChapters(assetID string, proposals []chapterProposal, duration float64) []models.Chapter {
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].StartSec < proposals[j].StartSec })

	chapters := make([]models.Chapter, 0, len(proposals))
	prevEnd := 0.0
	for _, pr := range proposals {
		start := pr.StartSec
		if start < prevEnd {
			start = prevEnd
		}
		end := pr.EndSec
		if end > duration {
			end = duration
		}
		title := strings.TrimSpace(pr.Title)
		if end <= start || title == "" {
			continue
		}
		chapters = append(chapters, models.Chapter{
			ID:       uuid.NewString(),
			AssetID:  assetID,
			StartSec: start,
			EndSec:   end,
			Title:    title,
			Source:   models.ChapterGenerated,
		})
		prevEnd = end
	}
	return chapters
}

var _ core.Chapterer = (*LLMChapterer)(nil)
