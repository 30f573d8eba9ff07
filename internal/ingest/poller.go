package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

// Poller is the fallback path for transcription results when the provider's
// webhook never arrives. Each tick polls every transcribing asset and feeds
// terminal results through the same dedupe path the webhook uses.
type Poller struct {
	db          core.DbClient
	transcriber core.Transcriber
	pipeline    *Pipeline
	interval    time.Duration
}

func NewPoller(db core.DbClient, transcriber core.Transcriber, pipeline *Pipeline, interval time.Duration) *Poller {
	return &Poller{db: db, transcriber: transcriber, pipeline: pipeline, interval: interval}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	log := zerolog.Ctx(ctx)

	assets, err := p.db.ListAssetsByStatus(ctx, models.StatusTranscribing)
	if err != nil {
		log.Error().Err(err).Msg("poller: list transcribing assets")
		return
	}

	for i := range assets {
		asset := &assets[i]
		if asset.TranscriptionJobID == "" {
			continue
		}
		res, err := p.transcriber.Poll(ctx, asset.TranscriptionJobID)
		if err != nil {
			log.Warn().Err(err).Str("asset_id", asset.ID).Msg("poller: job status unavailable")
			continue
		}
		if !res.Done && !res.Failed {
			continue
		}
		if err := p.pipeline.OnTranscriptionResult(ctx, res); err != nil {
			log.Error().Err(err).Str("asset_id", asset.ID).Msg("poller: applying transcription result")
		}
	}
}
