// Package retrieval implements layered gated search over the per-course
// index: asset granularity first, then chapters, then segments, with a
// whole-course fallback when the asset stage has no confident winner.
package retrieval

import (
	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/models"
)

// passesGate reports whether a stage is confident enough to narrow the
// search: the best hit clears the absolute threshold and beats the runner-up
// by the margin. A lone hit only has to clear the threshold, and a runner-up
// that itself clears the threshold never blocks the stage.
func passesGate(hits []models.RetrievalHit, g config.Gate) bool {
	if len(hits) == 0 {
		return false
	}
	top := hits[0].Score
	if top < g.Threshold {
		return false
	}
	if len(hits) == 1 {
		return true
	}
	second := hits[1].Score
	return top-second >= g.Margin || second >= g.Threshold
}

// aboveThreshold keeps the hits a passed gate selects for the next stage.
func aboveThreshold(hits []models.RetrievalHit, threshold float64) []models.RetrievalHit {
	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}
