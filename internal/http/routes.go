package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pdf2md/internal/config"
	"pdf2md/internal/domain"
	"pdf2md/internal/services"
	"pdf2md/internal/storage"
)

const (
	serviceName    = "PDF to Markdown Converter"
	serviceVersion = "1.0.0"
)

type API struct {
	cfg    config.Config
	files  *storage.FileManager
	store  storage.TaskStore
	queue  Submitter
	share  *services.ShareService
	mirror storage.Mirror
	model  ModelStatus
	logger *logrus.Logger
	newID  func() string
}

func NewAPI(cfg config.Config, deps Deps) *API {
	return &API{
		cfg:    cfg,
		files:  deps.Files,
		store:  deps.Store,
		queue:  deps.Queue,
		share:  deps.Share,
		mirror: deps.Mirror,
		model:  deps.Model,
		logger: deps.Logger,
		newID:  uuid.NewString,
	}
}

func registerRoutes(r *gin.Engine, api *API) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)

		apiGroup.POST("/upload", api.handleUpload)
		apiGroup.GET("/status/:id", api.handleStatus)

		apiGroup.GET("/download/:id/markdown", api.handleDownloadMarkdown)
		apiGroup.GET("/download/:id/report", api.handleDownloadReport)
		apiGroup.GET("/download/:id/metadata", api.handleDownloadMetadata)
		apiGroup.GET("/download/:id/images/:filename", api.handleDownloadImage)

		apiGroup.GET("/tasks", api.handleListTasks)
		apiGroup.DELETE("/tasks/:id", api.handleDeleteTask)
		apiGroup.POST("/tasks/:id/share", api.handleShareTask)
	}

	r.GET("/share/:id/markdown", api.handleServeShared)
}

func (a *API) handleHealth(c *gin.Context) {
	count, err := a.store.Count(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"service":       serviceName,
		"version":       serviceVersion,
		"tasks_count":   count,
		"queue_pending": a.queue.Pending(),
		"model_loaded":  a.model != nil && a.model.Ready(),
	})
}

func (a *API) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondMessage(c, http.StatusRequestEntityTooLarge, storage.ErrUploadTooLarge.Error())
			return
		}
		respondMessage(c, http.StatusBadRequest, "missing pdf file")
		return
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		respondMessage(c, http.StatusBadRequest, "Only PDF files are supported")
		return
	}

	taskType := strings.ToLower(strings.TrimSpace(c.DefaultPostForm("task_type", a.cfg.DefaultTaskType)))
	if !domain.ValidTaskType(taskType) {
		respondMessage(c, http.StatusBadRequest, "unknown task type: "+taskType)
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}
	defer upload.Close()

	taskID := a.newID()
	log := a.logger.WithFields(logrus.Fields{"task_id": taskID, "filename": fileHeader.Filename})

	if _, err := a.files.SaveUpload(taskID, upload); err != nil {
		if errors.Is(err, storage.ErrUploadTooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		log.WithError(err).Error("save upload")
		respondMessage(c, http.StatusInternalServerError, "failed to save file: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	task := domain.NewTask(taskID, filepath.Base(fileHeader.Filename), taskType, time.Now())
	if _, err := a.store.Create(ctx, task); err != nil {
		log.WithError(err).Error("create task")
		a.discardUpload(taskID)
		respondMessage(c, http.StatusInternalServerError, "unable to create task")
		return
	}

	if err := a.queue.Submit(taskID); err != nil {
		log.WithError(err).Warn("queue task")
		a.discardUpload(taskID)
		if delErr := a.store.Delete(ctx, taskID); delErr != nil {
			log.WithError(delErr).Error("remove rejected task")
		}
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		respondMessage(c, status, "server is busy, try again later")
		return
	}
	log.WithField("task_type", taskType).Info("task queued")

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task_id": taskID,
		"message": "File uploaded, processing started...",
	})
}

func (a *API) discardUpload(taskID string) {
	if err := a.files.RemoveTask(taskID); err != nil {
		a.logger.WithField("task_id", taskID).WithError(err).Warn("remove upload")
	}
}

func (a *API) handleStatus(c *gin.Context) {
	task, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *API) handleListTasks(c *gin.Context) {
	tasks, err := a.store.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (a *API) handleDownloadMarkdown(c *gin.Context) {
	task, ok := a.completed(c)
	if !ok {
		return
	}
	name := strings.TrimSuffix(task.SourceName, filepath.Ext(task.SourceName)) + ".md"
	a.serveArtifact(c, a.files.MarkdownPath(task.ID), name, "text/markdown; charset=utf-8")
}

func (a *API) handleDownloadReport(c *gin.Context) {
	task, ok := a.completed(c)
	if !ok {
		return
	}
	name := strings.TrimSuffix(task.SourceName, filepath.Ext(task.SourceName)) + "_report.pdf"
	a.serveArtifact(c, a.files.ReportPath(task.ID), name, "application/pdf")
}

func (a *API) handleDownloadMetadata(c *gin.Context) {
	task, ok := a.completed(c)
	if !ok {
		return
	}
	a.serveArtifact(c, a.files.MetadataPath(task.ID), storage.MetadataName, "application/json")
}

func (a *API) handleDownloadImage(c *gin.Context) {
	task, ok := a.lookup(c)
	if !ok {
		return
	}

	path, err := a.files.PageImagePath(task.ID, c.Param("filename"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "file not found")
		return
	}
	a.serveArtifact(c, path, filepath.Base(path), "image/jpeg")
}

// handleDeleteTask only accepts terminal tasks: a running pipeline owns its
// output directory until it finishes.
func (a *API) handleDeleteTask(c *gin.Context) {
	task, ok := a.lookup(c)
	if !ok {
		return
	}
	if !task.Status.Terminal() {
		respondMessage(c, http.StatusConflict, "task is still "+string(task.Status)+"; delete it once it has finished")
		return
	}

	ctx := c.Request.Context()
	if err := a.files.RemoveTask(task.ID); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if a.mirror != nil {
		if err := a.mirror.RemoveTask(ctx, task.ID); err != nil {
			a.logger.WithField("task_id", task.ID).WithError(err).Warn("remove mirrored objects")
		}
	}
	if err := a.store.Delete(ctx, task.ID); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			respondMessage(c, http.StatusNotFound, "Task not found")
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Task deleted"})
}

func (a *API) handleShareTask(c *gin.Context) {
	task, ok := a.completed(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.share.Generate(task.ID))
}

func (a *API) handleServeShared(c *gin.Context) {
	err := a.share.Verify(c.Request.URL.Path, c.Query("exp"), c.Query("sig"))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrShareExpired):
		respondError(c, http.StatusGone, err)
		return
	case errors.Is(err, services.ErrShareInvalid):
		respondError(c, http.StatusForbidden, err)
		return
	default:
		respondError(c, http.StatusBadRequest, err)
		return
	}

	task, ok := a.completed(c)
	if !ok {
		return
	}
	name := strings.TrimSuffix(task.SourceName, filepath.Ext(task.SourceName)) + ".md"
	a.serveArtifact(c, a.files.MarkdownPath(task.ID), name, "text/markdown; charset=utf-8")
}

func (a *API) lookup(c *gin.Context) (domain.Task, bool) {
	task, err := a.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			respondMessage(c, http.StatusNotFound, "Task not found")
			return domain.Task{}, false
		}
		respondError(c, http.StatusInternalServerError, err)
		return domain.Task{}, false
	}
	return task, true
}

func (a *API) completed(c *gin.Context) (domain.Task, bool) {
	task, ok := a.lookup(c)
	if !ok {
		return domain.Task{}, false
	}
	if task.Status != domain.StatusCompleted {
		respondMessage(c, http.StatusBadRequest, "Task not completed")
		return domain.Task{}, false
	}
	return task, true
}

func (a *API) serveArtifact(c *gin.Context, path, downloadName, contentType string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondMessage(c, http.StatusNotFound, "file not found")
		return
	}
	c.Header("Content-Type", contentType)
	c.FileAttachment(path, downloadName)
}

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
