package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pdf2md/internal/config"
	"pdf2md/internal/events"
	httpserver "pdf2md/internal/http"
	"pdf2md/internal/logging"
	"pdf2md/internal/pipeline"
	"pdf2md/internal/services"
	"pdf2md/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped with error")
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	files, err := storage.NewFileManager(cfg.DataDir, cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("init file manager: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init task store: %w", err)
	}
	defer closeStore()
	logger.WithField("backend", cfg.Store.Backend).Info("task store ready")

	var mirror storage.Mirror
	if cfg.MinIO.Enabled() {
		m, err := storage.NewMinioMirror(ctx, storage.MinioConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
		})
		if err != nil {
			return fmt.Errorf("init object storage mirror: %w", err)
		}
		mirror = m
		logger.WithField("bucket", cfg.MinIO.Bucket).Info("object storage mirror enabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return fmt.Errorf("init event publisher: %w", err)
		}
		publisher = kp
		logger.WithField("topic", cfg.Kafka.Topic).Info("task events published to kafka")
	}
	defer publisher.Close()

	recognizer := services.NewRecognizer(cfg.OCR)
	p := pipeline.New(pipeline.Deps{
		Store:      store,
		Files:      files,
		Rasterizer: services.NewRasterizer(cfg.RenderDPI, cfg.JPEGQuality),
		Recognizer: recognizer,
		Annotator:  services.NewAnnotator(cfg.JPEGQuality),
		Reporter:   services.NewReportService(),
		Mirror:     mirror,
		Publisher:  publisher,
		Logger:     logger,
	})
	dispatcher := pipeline.NewDispatcher(p, cfg.Workers, cfg.QueueSize, logger)

	srv, err := httpserver.NewServer(cfg, httpserver.Deps{
		Files:  files,
		Store:  store,
		Queue:  dispatcher,
		Share:  services.NewShareService(cfg.ShareSecret, cfg.BaseURL, cfg.ShareTTL),
		Mirror: mirror,
		Model:  recognizer,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (storage.TaskStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreFile:
		store, err := storage.NewFileTaskStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.StoreRedis:
		store, err := storage.NewRedisTaskStore(ctx, storage.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return storage.NewMemoryTaskStore(), func() {}, nil
	}
}
