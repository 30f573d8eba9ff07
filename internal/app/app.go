package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/chunk"
	db "github.com/classmate-app/classmate/internal/core/database"
	"github.com/classmate-app/classmate/internal/core/index"
	"github.com/classmate-app/classmate/internal/core/llm"
	"github.com/classmate-app/classmate/internal/core/media"
	objectclient "github.com/classmate-app/classmate/internal/core/object-client"
	"github.com/classmate-app/classmate/internal/core/transcribe"
	"github.com/classmate-app/classmate/internal/ingest"
	"github.com/classmate-app/classmate/internal/retrieval"
	"github.com/classmate-app/classmate/internal/services"
)

// App wires every component and owns their lifetimes.
type App struct {
	Cfg      *config.Config
	DBClient *db.DatabaseClient
	Queue    *ingest.Queue
	Pipeline *ingest.Pipeline
	Poller   *ingest.Poller
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("object client initialized and ready")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("initialize llm: %w", err)
	}

	registry := index.NewRegistry(dbClient.DB(), embedder, cfg.QueryTimeout, cfg.EmbedTimeout)

	queue, err := ingest.NewQueue(cfg.AmqpURL, cfg.QueueName, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("queue", cfg.QueueName).Msg("work queue connected")

	extractor := media.NewFFmpegExtractor(cfg.FFmpegBin, objClient)

	var transcriber core.Transcriber
	var chapterer core.Chapterer
	if cfg.TranscriberURL != "" {
		transcriber = transcribe.NewClient(cfg.TranscriberURL, cfg.TranscriberAPIKey, 30*time.Second)
		chapterer = ingest.NewLLMChapterer(llmProvider)
	} else {
		log.Warn().Msg("no transcriber configured, video ingestion will fail")
	}

	chunkCfg := chunk.Config{
		MaxChars:       cfg.ChunkMaxChars,
		MaxWindowSec:   cfg.ChunkMaxWindowSec,
		ChapterTextCap: cfg.ChapterTextCap,
	}
	pipeline := ingest.NewPipeline(dbClient, objClient, cfg.BucketName, extractor, transcriber, chapterer, registry, queue, chunkCfg)

	var poller *ingest.Poller
	if transcriber != nil {
		poller = ingest.NewPoller(dbClient, transcriber, pipeline, cfg.PollInterval)
	}

	retriever := retrieval.NewRetriever(registry, dbClient, retrieval.OptionsFromConfig(cfg))

	assetSvc := services.NewAssetService(dbClient, registry, queue, cfg.StaleAfter)
	chatSvc := services.NewChatService(dbClient, retriever, llmProvider,
		cfg.MaxPromptWindows, cfg.MaxHistoryMessages, cfg.SnippetMaxChars, cfg.GenerateTimeout)

	server := NewServer(cfg, log, assetSvc, chatSvc, pipeline)

	return &App{
		Cfg:      cfg,
		DBClient: dbClient,
		Queue:    queue,
		Pipeline: pipeline,
		Poller:   poller,
		Server:   server,
	}, nil
}

func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
