package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/chunk"
	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/core/extract"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/models"
)

// IndexProvider hands out per-course index stores.
type IndexProvider interface {
	ForCourse(courseID string) index.Store
}

// presignTTL covers the longest plausible transcription job.
const presignTTL = 4 * time.Hour

// Pipeline drives assets through the ingestion stages. All stage completions
// funnel through Advance, so a duplicate webhook, a racing poller tick, or a
// redelivered job cannot double-apply a stage.
type Pipeline struct {
	db          core.DbClient
	objects     core.ObjectClient
	bucket      string
	audio       core.AudioExtractor
	transcriber core.Transcriber
	chapterer   core.Chapterer
	indexes     IndexProvider
	dispatcher  Dispatcher
	chunkCfg    chunk.Config
}

func NewPipeline(
	db core.DbClient,
	objects core.ObjectClient,
	bucket string,
	audio core.AudioExtractor,
	transcriber core.Transcriber,
	chapterer core.Chapterer,
	indexes IndexProvider,
	dispatcher Dispatcher,
	chunkCfg chunk.Config,
) *Pipeline {
	return &Pipeline{
		db:          db,
		objects:     objects,
		bucket:      bucket,
		audio:       audio,
		transcriber: transcriber,
		chapterer:   chapterer,
		indexes:     indexes,
		dispatcher:  dispatcher,
		chunkCfg:    chunkCfg,
	}
}

// Handle is the queue consumer entry point.
func (p *Pipeline) Handle(ctx context.Context, job Job) error {
	switch job.Stage {
	case StageIndex:
		asset, err := p.db.GetAssetByID(ctx, job.AssetID)
		if err != nil {
			return err
		}
		if asset == nil {
			return nil
		}
		return p.finishAsset(ctx, asset)
	default:
		return p.Process(ctx, job.AssetID)
	}
}

// finishAsset runs the post-extraction stages on a worker: chaptering when
// the asset is freshly transcribed, then the index rebuild.
func (p *Pipeline) finishAsset(ctx context.Context, asset *models.CourseAsset) error {
	log := zerolog.Ctx(ctx)

	if err := p.chapterAsset(ctx, asset); err != nil {
		// Chaptering is best-effort; segments still get indexed.
		log.Warn().Err(err).Str("asset_id", asset.ID).Msg("chaptering failed, indexing without chapters")
	}
	if err := p.IndexAsset(ctx, asset); err != nil {
		p.fail(ctx, asset.ID, err)
		return err
	}
	return nil
}

// Process starts (or restarts) ingestion for an asset. Documents run to
// indexed inline; videos stop at transcribing and resume when the provider
// reports back.
func (p *Pipeline) Process(ctx context.Context, assetID string) error {
	log := zerolog.Ctx(ctx)

	asset, err := p.db.GetAssetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		log.Warn().Str("asset_id", assetID).Msg("job for unknown asset, dropping")
		return nil
	}

	// registered, failed, and indexed may all (re-)enter processing. A job
	// arriving in any other state is a stale redelivery.
	if !CanTransition(asset.Status, models.StatusProcessing) {
		log.Debug().Str("asset_id", asset.ID).Str("status", string(asset.Status)).Msg("asset not startable, dropping job")
		return nil
	}
	ok, err := Advance(ctx, p.db, asset.ID, asset.Status, models.StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	switch asset.Kind {
	case models.KindDocument:
		err = p.processDocument(ctx, asset)
	case models.KindVideo:
		err = p.processVideo(ctx, asset)
	default:
		err = fmt.Errorf("unknown asset kind %q", asset.Kind)
	}
	if err != nil {
		p.fail(ctx, asset.ID, err)
		return err
	}
	return nil
}

func (p *Pipeline) processDocument(ctx context.Context, asset *models.CourseAsset) error {
	data, err := p.objects.GetFile(ctx, p.bucket, asset.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	units, err := extract.Document(asset.ID, data, asset.MimeType, asset.FileName)
	if err != nil {
		return err
	}
	if err := p.db.ReplaceSourceUnits(ctx, asset.ID, units); err != nil {
		return err
	}
	if _, err := Advance(ctx, p.db, asset.ID, models.StatusProcessing, models.StatusExtracted); err != nil {
		return err
	}

	asset.Status = models.StatusExtracted
	return p.IndexAsset(ctx, asset)
}

func (p *Pipeline) processVideo(ctx context.Context, asset *models.CourseAsset) error {
	log := zerolog.Ctx(ctx)

	if p.transcriber == nil {
		return &errs.TranscriptionError{AssetID: asset.ID, Err: errors.New("no transcription provider configured")}
	}

	audioKey := asset.AudioKey
	if audioKey == "" {
		key, err := p.audio.ExtractAudio(ctx, p.bucket, asset.StorageKey)
		if err != nil {
			return err
		}
		if err := p.db.SetAssetAudioKey(ctx, asset.ID, key); err != nil {
			return err
		}
		audioKey = key
	}
	if _, err := Advance(ctx, p.db, asset.ID, models.StatusProcessing, models.StatusAudioExtracted); err != nil {
		return err
	}

	audioURL, err := p.objects.PresignGet(ctx, p.bucket, audioKey, presignTTL)
	if err != nil {
		return fmt.Errorf("presign audio: %w", err)
	}

	jobID, err := p.transcriber.Submit(ctx, audioURL, "")
	if err != nil {
		return &errs.TranscriptionError{AssetID: asset.ID, Err: err}
	}
	if err := p.db.SetAssetTranscriptionJob(ctx, asset.ID, jobID); err != nil {
		return err
	}
	if _, err := Advance(ctx, p.db, asset.ID, models.StatusAudioExtracted, models.StatusTranscribing); err != nil {
		return err
	}

	log.Info().Str("asset_id", asset.ID).Str("job_id", jobID).Msg("transcription submitted")
	return nil
}

// OnTranscriptionResult resumes an asset when the provider reports a terminal
// job state. Results for unknown jobs and repeats of already-applied results
// are silently dropped. The heavy tail (chaptering, embedding, index upserts)
// runs on a worker via a durable job, so the webhook request only persists the
// transcript and returns.
func (p *Pipeline) OnTranscriptionResult(ctx context.Context, res *core.TranscriptionResult) error {
	log := zerolog.Ctx(ctx)

	asset, err := p.db.GetAssetByJobID(ctx, res.JobID)
	if err != nil {
		return err
	}
	if asset == nil {
		log.Warn().Str("job_id", res.JobID).Msg("transcription result for unknown job")
		return nil
	}

	if res.Failed {
		p.fail(ctx, asset.ID, &errs.TranscriptionError{AssetID: asset.ID, Err: errors.New(res.Error)})
		return nil
	}
	if !res.Done {
		return nil
	}

	units, err := extract.Transcript(asset.ID, res.Language, res.Cues)
	if err != nil {
		p.fail(ctx, asset.ID, err)
		return err
	}

	// The CAS below is the dedupe point: only apply units for the first
	// completion seen while the asset is still transcribing.
	ok, err := Advance(ctx, p.db, asset.ID, models.StatusTranscribing, models.StatusTranscribed)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Str("asset_id", asset.ID).Msg("duplicate transcription result ignored")
		return nil
	}
	if err := p.db.ReplaceSourceUnits(ctx, asset.ID, units); err != nil {
		p.fail(ctx, asset.ID, err)
		return err
	}

	if err := p.dispatcher.Dispatch(ctx, Job{AssetID: asset.ID, Kind: asset.Kind, Stage: StageIndex}); err != nil {
		p.fail(ctx, asset.ID, fmt.Errorf("enqueue index job: %w", err))
		return err
	}
	return nil
}

func (p *Pipeline) chapterAsset(ctx context.Context, asset *models.CourseAsset) error {
	if p.chapterer == nil || asset.Kind != models.KindVideo {
		return nil
	}
	// Only a freshly transcribed asset gets chaptered; a resumed index job for
	// a chaptered or indexed asset keeps the chapters it has.
	if asset.Status != models.StatusTranscribed {
		return nil
	}

	units, err := p.db.ListSourceUnits(ctx, asset.ID)
	if err != nil {
		return err
	}
	chapters, err := p.chapterer.Chapters(ctx, asset, units)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return nil
	}

	if err := p.db.ReplaceChapters(ctx, asset.ID, chapters); err != nil {
		return err
	}
	if err := p.db.AssignUnitChapters(ctx, asset.ID); err != nil {
		return err
	}
	if ok, err := Advance(ctx, p.db, asset.ID, models.StatusTranscribed, models.StatusChaptered); err != nil {
		return err
	} else if ok {
		asset.Status = models.StatusChaptered
	}
	return nil
}

// IndexAsset rebuilds all three granularities for an asset: upsert the fresh
// document set, prune leftovers from the previous build, then flip to indexed.
// Upserts retry with backoff because embedding providers throttle in bursts.
func (p *Pipeline) IndexAsset(ctx context.Context, asset *models.CourseAsset) error {
	log := zerolog.Ctx(ctx)

	units, err := p.db.ListSourceUnits(ctx, asset.ID)
	if err != nil {
		return err
	}
	chapters, err := p.db.ListChapters(ctx, asset.ID)
	if err != nil {
		return err
	}

	docs := chunk.Documents(p.chunkCfg, asset, units, chapters)
	store := p.indexes.ForCourse(asset.CourseID)

	op := func() (struct{}, error) {
		if err := store.Upsert(ctx, docs); err != nil {
			var ie *errs.IndexError
			if errors.As(err, &ie) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}
	if _, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	); err != nil {
		return err
	}

	keep := make([]string, 0, len(docs))
	for i := range docs {
		keep = append(keep, docs[i].ID)
	}
	if err := store.PruneAsset(ctx, asset.ID, keep); err != nil {
		return err
	}

	// A re-index of an already indexed asset has no status edge to take.
	if asset.Status != models.StatusIndexed {
		if _, err := Advance(ctx, p.db, asset.ID, asset.Status, models.StatusIndexed); err != nil {
			return err
		}
	}
	log.Info().Str("asset_id", asset.ID).Int("documents", len(docs)).Msg("asset indexed")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, assetID string, cause error) {
	if err := p.db.MarkAssetFailed(ctx, assetID, cause.Error()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("asset_id", assetID).Msg("could not record asset failure")
	}
}
