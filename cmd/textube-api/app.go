package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/textube/backend/internal/config"
	"github.com/textube/backend/internal/database"
	"github.com/textube/backend/internal/ingest"
	"github.com/textube/backend/internal/links"
	"github.com/textube/backend/internal/logging"
	"github.com/textube/backend/internal/posts"
	"github.com/textube/backend/internal/server"
	"github.com/textube/backend/internal/sources"
	"go.uber.org/zap"
)

// application holds the wired pipeline shared by serve and sweep.
type application struct {
	logger     *zap.Logger
	sqlDB      *sql.DB
	posts      *posts.Service
	links      *links.Service
	worker     *ingest.Worker
	dispatcher *ingest.Dispatcher
	events     *server.StatusDispatcher
}

func newApplication(appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	registry := sources.NewDefaultRegistry(sources.RegistryConfig{
		Client: sources.ClientConfig{
			HTTPClient:    &http.Client{Timeout: appConfig.SourcesHTTPTimeout},
			UserAgent:     appConfig.SourcesUserAgent,
			RatePerSecond: appConfig.SourcesRatePerSecond,
			Logger:        logger,
		},
		YouTubeAPIKey:        appConfig.YouTubeAPIKey,
		YouTubeBaseURL:       appConfig.YouTubeBaseURL,
		RedditBaseURL:        appConfig.RedditBaseURL,
		StackOverflowBaseURL: appConfig.StackOverflowBaseURL,
	})

	idProvider := posts.NewUUIDProvider()
	weights := appConfig.RankWeights
	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		Adapters:   registry,
		Clock:      time.Now,
		IDProvider: idProvider,
		Weights:    &weights,
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	events := server.NewStatusDispatcher()
	worker, err := ingest.NewWorker(ingest.WorkerConfig{
		Submissions: links.NewStore(db, time.Now),
		Posts:       postService,
		Listener:    events,
		BatchLimit:  appConfig.BatchLimit,
		JobTimeout:  appConfig.IngestJobTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	dispatcher, err := ingest.NewDispatcher(ingest.DispatcherConfig{
		Processor:  worker,
		Workers:    appConfig.IngestWorkers,
		QueueSize:  appConfig.IngestQueueSize,
		JobTimeout: appConfig.IngestJobTimeout,
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	linkService, err := links.NewService(links.ServiceConfig{
		Database:       db,
		Posts:          postService,
		Dispatcher:     dispatcher,
		Listener:       events,
		AllowedDomains: appConfig.AllowedDomains,
		Clock:          time.Now,
		IDProvider:     idProvider,
		Logger:         logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &application{
		logger:     logger,
		sqlDB:      sqlDB,
		posts:      postService,
		links:      linkService,
		worker:     worker,
		dispatcher: dispatcher,
		events:     events,
	}, nil
}

func (a *application) Close() {
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	_ = a.logger.Sync()
}
