package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pdf2md/internal/config"
	"pdf2md/internal/metrics"
	"pdf2md/internal/services"
	"pdf2md/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	// multipart framing and the task_type field on top of the PDF itself
	multipartOverhead = 1 << 20
)

// Submitter queues a created task for processing.
type Submitter interface {
	Submit(taskID string) error
	Pending() int
}

// ModelStatus reports whether the recognition model has been loaded.
type ModelStatus interface {
	Ready() bool
}

type Deps struct {
	Files  *storage.FileManager
	Store  storage.TaskStore
	Queue  Submitter
	Share  *services.ShareService
	Mirror storage.Mirror
	Model  ModelStatus
	Logger *logrus.Logger
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	logger *logrus.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Files == nil || deps.Store == nil || deps.Queue == nil {
		return nil, errors.New("http server: missing file manager, store or queue")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Share == nil {
		deps.Share = services.NewShareService(cfg.ShareSecret, cfg.BaseURL, cfg.ShareTTL)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(deps.Logger))
	engine.Use(metrics.Middleware())
	engine.Use(MaxBodySize(cfg.MaxUploadBytes + multipartOverhead))
	engine.Use(CORS(cfg.CORSOrigins))

	api := NewAPI(cfg, deps)
	registerRoutes(engine, api)
	engine.GET("/metrics", metrics.Handler())

	return &Server{engine: engine, cfg: cfg, logger: deps.Logger}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
