// Package ingest runs the asset processing pipeline: extraction or
// transcription of source units, optional chaptering, and index builds.
// Every stage completion is guarded by a compare-and-set status transition,
// so duplicate or out-of-order completions become no-ops.
package ingest

import (
	"context"
	"fmt"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

// allowed maps each status to the statuses it may move to. failed is
// re-enterable from every non-terminal state; indexed is terminal except for
// an explicit re-ingest back through processing.
var allowed = map[models.AssetStatus][]models.AssetStatus{
	models.StatusRegistered:     {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing:     {models.StatusExtracted, models.StatusAudioExtracted, models.StatusFailed},
	models.StatusExtracted:      {models.StatusIndexed, models.StatusFailed},
	models.StatusAudioExtracted: {models.StatusTranscribing, models.StatusFailed},
	models.StatusTranscribing:   {models.StatusTranscribed, models.StatusFailed},
	models.StatusTranscribed:    {models.StatusChaptered, models.StatusIndexed, models.StatusFailed},
	models.StatusChaptered:      {models.StatusIndexed, models.StatusFailed},
	models.StatusIndexed:        {models.StatusProcessing},
	models.StatusFailed:         {models.StatusProcessing},
}

// CanTransition reports whether from -> to is a legal edge of the machine.
func CanTransition(from, to models.AssetStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves an asset along one legal edge. It returns false without error
// when the asset is no longer in `from` (another writer got there first) and
// an error only for illegal edges or storage failures.
func Advance(ctx context.Context, db core.DbClient, assetID string, from, to models.AssetStatus) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("illegal asset transition %s -> %s", from, to)
	}
	return db.TransitionAssetStatus(ctx, assetID, from, to)
}
