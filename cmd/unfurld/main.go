package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/api"
	"github.com/unfurld/unfurld/internal/cache"
	gcsstore "github.com/unfurld/unfurld/internal/cache/gcs"
	memorystore "github.com/unfurld/unfurld/internal/cache/memory"
	nopstore "github.com/unfurld/unfurld/internal/cache/nop"
	postgresstore "github.com/unfurld/unfurld/internal/cache/postgres"
	"github.com/unfurld/unfurld/internal/cachekey"
	"github.com/unfurld/unfurld/internal/clock/system"
	"github.com/unfurld/unfurld/internal/config"
	"github.com/unfurld/unfurld/internal/edge"
	"github.com/unfurld/unfurld/internal/extract"
	collyfetcher "github.com/unfurld/unfurld/internal/fetcher/colly"
	"github.com/unfurld/unfurld/internal/fetcher/httpclient"
	"github.com/unfurld/unfurld/internal/hash/sha256"
	"github.com/unfurld/unfurld/internal/id/uuid"
	"github.com/unfurld/unfurld/internal/image"
	"github.com/unfurld/unfurld/internal/logging"
	"github.com/unfurld/unfurld/internal/preview"
	memorypublisher "github.com/unfurld/unfurld/internal/publisher/memory"
	pubsubpublisher "github.com/unfurld/unfurld/internal/publisher/pubsub"
	"github.com/unfurld/unfurld/internal/resolver"
	"github.com/unfurld/unfurld/internal/tasks"
	"github.com/unfurld/unfurld/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	runner := tasks.NewRunner(time.Minute, logger.Named("tasks"))
	defer runner.Close()

	metadataStore, closeStore, err := buildStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("cache backend init failed", zap.Error(err))
	}
	defer closeStore()

	imageStore := metadataStore
	if cfg.Cache.ImageBackend == "gcs" {
		gs, err := gcsstore.New(ctx, gcsstore.Config{
			Bucket: cfg.GCS.Bucket,
			Prefix: cfg.GCS.Prefix,
		}, clock, logger.Named("gcs"))
		if err != nil {
			logger.Fatal("gcs backend init failed", zap.Error(err))
		}
		defer func() {
			if err := gs.Close(); err != nil {
				logger.Warn("gcs close failed", zap.Error(err))
			}
		}()
		imageStore = gs
	}

	manager := cache.New(metadataStore, imageStore, runner,
		cfg.MetadataTTL(), cfg.ImageTTL(), logger.Named("cache"))

	keys, err := cachekey.New(cfg.Cache.Namespace, hasher)
	if err != nil {
		logger.Fatal("cache key deriver init failed", zap.Error(err))
	}

	fetcher := buildFetcher(cfg, logger)
	extractor := extract.New(buildEngine(cfg), cfg.Extract.MaxBytes, logger.Named("extract"))
	pipeline := image.New(fetcher, buildTransformer(cfg), cfg.Image.MaxBytes, logger.Named("image"))

	publisher, topic, closePublisher := buildPublisher(ctx, cfg, logger)
	defer closePublisher()

	res := resolver.New(resolver.Options{
		Fetcher:   fetcher,
		Extractor: extractor,
		Images:    pipeline,
		Cache:     manager,
		Keys:      keys,
		Publisher: publisher,
		Runner:    runner,
		IDs:       idGen,
		Clock:     clock,
		Topic:     topic,
		Logger:    logger.Named("resolver"),
	})

	var edgeCache *edge.Cache
	if cfg.Edge.Enabled {
		edgeCache = edge.New(clock, time.Duration(cfg.Edge.TTLSeconds)*time.Second, cfg.Edge.MaxEntries)
	}

	apiServer := api.NewServer(res, pipeline, edgeCache, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runner.Close()
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, clock preview.Clock) (preview.Store, func(), error) {
	switch cfg.Cache.Backend {
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinOpenConns,
		}, clock)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "disabled":
		return nopstore.New(), func() {}, nil
	default:
		return memorystore.New(clock), func() {}, nil
	}
}

func buildFetcher(cfg config.Config, logger *zap.Logger) preview.Fetcher {
	if cfg.Fetch.Engine == "colly" {
		return collyfetcher.New(collyfetcher.Options{
			Timeout:   cfg.FetchTimeout(),
			UserAgent: cfg.HTTP.UserAgent,
		}, logger.Named("fetch"))
	}
	return httpclient.New(httpclient.Options{
		Timeout:        cfg.FetchTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		UserAgent:      cfg.HTTP.UserAgent,
	}, logger.Named("fetch"))
}

func buildEngine(cfg config.Config) extract.Engine {
	if cfg.Extract.Engine == "dom" {
		return extract.NewDOMEngine()
	}
	return extract.NewStreamEngine()
}

func buildTransformer(cfg config.Config) image.Transformer {
	if cfg.Image.Transform == "webp" {
		return image.NewWebPTransformer(uint(cfg.Image.Height), float32(cfg.Image.Quality))
	}
	return image.NopTransformer{}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (preview.Publisher, string, func()) {
	if cfg.PubSub.TopicName == "" || cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), cfg.PubSub.TopicName, func() {}
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub client init failed, events disabled", zap.Error(err))
		return memorypublisher.New(), "", func() {}
	}
	return pubsubpublisher.New(client), cfg.PubSub.TopicName, func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
}
