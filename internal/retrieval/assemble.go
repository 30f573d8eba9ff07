package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/classmate-app/classmate/internal/models"
)

// span is a run of proximate segment hits from one asset, pre-expansion.
type span struct {
	assetID      string
	kind         models.AssetKind
	title        string
	chapterID    string
	startPos     float64
	endPos       float64
	score        float64
	fallbackText []string
}

// assembleWindows groups segment hits by asset, merges hits that sit close
// together, expands each merged range with neighboring source units, and
// returns the windows best first.
func (r *Retriever) assembleWindows(ctx context.Context, hits []models.RetrievalHit) ([]models.ContextWindow, error) {
	byAsset := make(map[string][]models.RetrievalHit)
	var order []string
	for _, h := range hits {
		if _, seen := byAsset[h.AssetID]; !seen {
			order = append(order, h.AssetID)
		}
		byAsset[h.AssetID] = append(byAsset[h.AssetID], h)
	}

	var windows []models.ContextWindow
	for _, assetID := range order {
		assetHits := byAsset[assetID]
		sort.Slice(assetHits, func(i, j int) bool { return assetHits[i].StartPos < assetHits[j].StartPos })

		for _, sp := range r.mergeSpans(assetHits) {
			w, err := r.expandSpan(ctx, sp)
			if err != nil {
				return nil, err
			}
			windows = append(windows, w)
		}
	}

	sort.SliceStable(windows, func(i, j int) bool { return windows[i].Score > windows[j].Score })
	return windows, nil
}

// mergeSpans folds position-sorted hits of one asset into spans, joining hits
// whose gap is within the merge distance for the asset kind.
func (r *Retriever) mergeSpans(hits []models.RetrievalHit) []span {
	gap := r.opts.MergeGapPages
	if hits[0].Kind == models.KindVideo {
		gap = r.opts.MergeGapSec
	}

	var spans []span
	for _, h := range hits {
		if n := len(spans); n > 0 && h.StartPos-spans[n-1].endPos <= gap {
			cur := &spans[n-1]
			if h.EndPos > cur.endPos {
				cur.endPos = h.EndPos
			}
			if h.Score > cur.score {
				cur.score = h.Score
			}
			if cur.chapterID == "" {
				cur.chapterID = h.ChapterID
			}
			cur.fallbackText = append(cur.fallbackText, h.Text)
			continue
		}
		spans = append(spans, span{
			assetID:      h.AssetID,
			kind:         h.Kind,
			title:        h.Title,
			chapterID:    h.ChapterID,
			startPos:     h.StartPos,
			endPos:       h.EndPos,
			score:        h.Score,
			fallbackText: []string{h.Text},
		})
	}
	return spans
}

// expandSpan rebuilds a span's text from the stored source units within the
// expansion radius, capped at the window size. The window keeps the span's own
// bounds so citations point at the matched content, not the padding. If the
// units are gone (asset deleted mid-request) the hit text itself still makes a
// usable window.
func (r *Retriever) expandSpan(ctx context.Context, sp span) (models.ContextWindow, error) {
	radius := r.opts.ExpandPages
	floor := 1.0 // pages are 1-based
	if sp.kind == models.KindVideo {
		radius = r.opts.ExpandSec
		floor = 0
	}

	lo := sp.startPos - radius
	if lo < floor {
		lo = floor
	}
	hi := sp.endPos + radius

	units, err := r.db.ListSourceUnitsInRange(ctx, sp.assetID, lo, hi)
	if err != nil {
		return models.ContextWindow{}, err
	}

	w := models.ContextWindow{
		AssetID:  sp.assetID,
		Kind:     sp.kind,
		Title:    sp.title,
		StartPos: sp.startPos,
		EndPos:   sp.endPos,
		Score:    sp.score,
	}

	if len(units) == 0 {
		w.Text = capText(strings.Join(sp.fallbackText, " "), r.opts.WindowMaxChars)
		return w, nil
	}

	texts := make([]string, 0, len(units))
	for _, u := range units {
		if u.Text != "" {
			texts = append(texts, u.Text)
		}
	}
	w.Text = capText(strings.Join(texts, " "), r.opts.WindowMaxChars)

	if sp.chapterID != "" {
		title, err := r.chapterTitle(ctx, sp.assetID, sp.chapterID)
		if err != nil {
			return models.ContextWindow{}, err
		}
		w.ChapterTitle = title
	}
	return w, nil
}

func (r *Retriever) chapterTitle(ctx context.Context, assetID, chapterID string) (string, error) {
	chapters, err := r.db.ListChapters(ctx, assetID)
	if err != nil {
		return "", err
	}
	for _, ch := range chapters {
		if ch.ID == chapterID {
			return ch.Title, nil
		}
	}
	return "", nil
}

// capText truncates at a word boundary near the limit.
func capText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := truncateRunes(s, max)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
