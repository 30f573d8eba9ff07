package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/models"
)

// StoreProvider hands out per-course index stores.
type StoreProvider interface {
	ForCourse(courseID string) index.Store
}

// Options carries the stage sizes, gates, and window shaping knobs.
type Options struct {
	AssetK   int
	ChapterK int
	SegmentK int

	AssetGate   config.Gate
	ChapterGate config.Gate
	SegmentGate config.Gate

	MergeGapSec    float64
	MergeGapPages  float64
	ExpandSec      float64
	ExpandPages    float64
	WindowMaxChars int
}

// OptionsFromConfig copies the retrieval tuning out of the app config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AssetK:         cfg.AssetK,
		ChapterK:       cfg.ChapterK,
		SegmentK:       cfg.SegmentK,
		AssetGate:      cfg.AssetGate,
		ChapterGate:    cfg.ChapterGate,
		SegmentGate:    cfg.SegmentGate,
		MergeGapSec:    cfg.MergeGapSec,
		MergeGapPages:  cfg.MergeGapPages,
		ExpandSec:      cfg.ExpandSec,
		ExpandPages:    cfg.ExpandPages,
		WindowMaxChars: cfg.WindowMaxChars,
	}
}

// Retriever runs the staged search and turns the surviving segment hits into
// expanded context windows.
type Retriever struct {
	stores StoreProvider
	db     core.DbClient
	opts   Options
}

func NewRetriever(stores StoreProvider, db core.DbClient, opts Options) *Retriever {
	return &Retriever{stores: stores, db: db, opts: opts}
}

// Retrieve returns context windows for a query, best first. An empty slice
// means the course has nothing relevant; the caller decides what to say then.
func (r *Retriever) Retrieve(ctx context.Context, courseID, query string) ([]models.ContextWindow, error) {
	log := zerolog.Ctx(ctx)
	store := r.stores.ForCourse(courseID)

	assetHits, err := store.Query(ctx, query, index.Filter{DocType: models.DocAsset, K: r.opts.AssetK})
	if err != nil {
		return nil, err
	}

	var segments []models.RetrievalHit
	if passesGate(assetHits, r.opts.AssetGate) {
		selected := aboveThreshold(assetHits, r.opts.AssetGate.Threshold)
		segments, err = r.scopedSegments(ctx, store, query, selected)
		if err != nil {
			return nil, err
		}
	} else {
		log.Debug().Str("course_id", courseID).Msg("asset gate failed, searching whole course")
	}

	// No confident asset, or the scoped search came back empty: search every
	// segment in the course.
	if len(segments) == 0 {
		segments, err = store.Query(ctx, query, index.Filter{DocType: models.DocSegment, K: r.opts.SegmentK})
		if err != nil {
			return nil, err
		}
	}

	if !passesGate(segments, r.opts.SegmentGate) {
		return nil, nil
	}
	segments = aboveThreshold(segments, r.opts.SegmentGate.Threshold)

	return r.assembleWindows(ctx, segments)
}

// scopedSegments fans out one segment query per selected asset branch: video
// assets go through the chapter stage first, documents straight to segments.
func (r *Retriever) scopedSegments(ctx context.Context, store index.Store, query string, selected []models.RetrievalHit) ([]models.RetrievalHit, error) {
	var videoIDs, docIDs []string
	for _, h := range selected {
		if h.Kind == models.KindVideo {
			videoIDs = append(videoIDs, h.AssetID)
		} else {
			docIDs = append(docIDs, h.AssetID)
		}
	}

	var mu sync.Mutex
	var merged []models.RetrievalHit
	collect := func(hits []models.RetrievalHit) {
		mu.Lock()
		merged = append(merged, hits...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if len(videoIDs) > 0 {
		g.Go(func() error {
			hits, err := r.videoSegments(gctx, store, query, videoIDs)
			if err != nil {
				return err
			}
			collect(hits)
			return nil
		})
	}
	if len(docIDs) > 0 {
		g.Go(func() error {
			hits, err := store.Query(gctx, query, index.Filter{
				DocType:  models.DocSegment,
				AssetIDs: docIDs,
				K:        r.opts.SegmentK,
			})
			if err != nil {
				return err
			}
			collect(hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > r.opts.SegmentK {
		merged = merged[:r.opts.SegmentK]
	}
	return merged, nil
}

// videoSegments narrows by chapter when the chapter stage is confident,
// otherwise searches all segments of the selected videos.
func (r *Retriever) videoSegments(ctx context.Context, store index.Store, query string, videoIDs []string) ([]models.RetrievalHit, error) {
	chapterHits, err := store.Query(ctx, query, index.Filter{
		DocType:  models.DocChapter,
		AssetIDs: videoIDs,
		K:        r.opts.ChapterK,
	})
	if err != nil {
		return nil, err
	}

	f := index.Filter{DocType: models.DocSegment, AssetIDs: videoIDs, K: r.opts.SegmentK}
	if passesGate(chapterHits, r.opts.ChapterGate) {
		selected := aboveThreshold(chapterHits, r.opts.ChapterGate.Threshold)
		chapterIDs := make([]string, 0, len(selected))
		for _, h := range selected {
			chapterIDs = append(chapterIDs, h.ChapterID)
		}
		f.AssetIDs = nil
		f.ChapterIDs = chapterIDs
	}
	return store.Query(ctx, query, f)
}
