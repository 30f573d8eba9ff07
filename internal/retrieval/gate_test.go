package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/models"
)

func hits(scores ...float64) []models.RetrievalHit {
	out := make([]models.RetrievalHit, len(scores))
	for i, s := range scores {
		out[i] = models.RetrievalHit{Score: s}
	}
	return out
}

func TestPassesGate(t *testing.T) {
	gate := config.Gate{Threshold: 0.60, Margin: 0.05}

	assert.False(t, passesGate(nil, gate), "no hits never passes")
	assert.False(t, passesGate(hits(0.50), gate), "below threshold")
	assert.True(t, passesGate(hits(0.70), gate), "lone hit above threshold")
	assert.True(t, passesGate(hits(0.70, 0.55), gate), "clear margin over runner-up")
	assert.False(t, passesGate(hits(0.62, 0.59), gate), "too close to a runner-up below threshold")
	assert.True(t, passesGate(hits(0.70, 0.68), gate), "both above threshold, margin irrelevant")
}

func TestPassesGateZeroMargin(t *testing.T) {
	gate := config.Gate{Threshold: 0.50, Margin: 0}
	assert.True(t, passesGate(hits(0.50, 0.50), gate))
	assert.False(t, passesGate(hits(0.49), gate))
}

func TestAboveThreshold(t *testing.T) {
	in := hits(0.9, 0.7, 0.5, 0.3)
	kept := aboveThreshold(in, 0.6)
	assert.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Score)
	assert.Equal(t, 0.7, kept[1].Score)
}
