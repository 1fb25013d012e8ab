// Package pipeline drives submitted documents through rasterization,
// recognition and assembly, recording progress in the task registry.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pdf2md/internal/domain"
	"pdf2md/internal/events"
	"pdf2md/internal/metrics"
	"pdf2md/internal/services"
	"pdf2md/internal/storage"
)

const publishTimeout = 5 * time.Second

var failureKinds = []domain.ErrorKind{
	domain.KindValidation,
	domain.KindConversion,
	domain.KindRecognition,
	domain.KindIO,
	domain.KindConfig,
}

type Rasterizer interface {
	Rasterize(ctx context.Context, pdfData []byte, outDir string) ([]services.PageImage, error)
}

type Recognizer interface {
	EnsureReady(ctx context.Context) error
	Recognize(ctx context.Context, imagePath, taskType string) (string, error)
}

type Annotator interface {
	Annotate(srcPath, dstPath, taskType string) error
}

type Reporter interface {
	GenerateReport(bundle domain.ResultBundle, records []domain.PageRecord, outPath string) error
}

// Deps are the collaborators of a Pipeline. Mirror and Publisher are optional.
type Deps struct {
	Store      storage.TaskStore
	Files      *storage.FileManager
	Rasterizer Rasterizer
	Recognizer Recognizer
	Annotator  Annotator
	Reporter   Reporter
	Mirror     storage.Mirror
	Publisher  events.Publisher
	Logger     *logrus.Logger
}

type Pipeline struct {
	store      storage.TaskStore
	files      *storage.FileManager
	rasterizer Rasterizer
	recognizer Recognizer
	annotator  Annotator
	reporter   Reporter
	mirror     storage.Mirror
	publisher  events.Publisher
	logger     *logrus.Logger
	now        func() time.Time
}

func New(deps Deps) *Pipeline {
	p := &Pipeline{
		store:      deps.Store,
		files:      deps.Files,
		rasterizer: deps.Rasterizer,
		recognizer: deps.Recognizer,
		annotator:  deps.Annotator,
		reporter:   deps.Reporter,
		mirror:     deps.Mirror,
		publisher:  deps.Publisher,
		logger:     deps.Logger,
		now:        time.Now,
	}
	if p.publisher == nil {
		p.publisher = events.NopPublisher{}
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	return p
}

func (p *Pipeline) track(taskID string) *tracker {
	return &tracker{
		store:  p.store,
		taskID: taskID,
		log:    p.logger.WithField("task_id", taskID),
		now:    p.now,
	}
}

// Run drives one queued task to a terminal state. Per-page recognition errors
// are absorbed; any other error, or a panic, fails the task and removes the
// partial output directory. The returned error is the task-fatal cause.
func (p *Pipeline) Run(ctx context.Context, taskID string) (err error) {
	tr := p.track(taskID)

	task, err := tr.start(ctx)
	if err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}
	p.publish(ctx, events.TypeStarted, task)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			p.failRun(ctx, tr, err)
		}
	}()

	bundle, err := p.execute(ctx, tr, task)
	if err != nil {
		return err
	}

	done, err := tr.complete(ctx, bundle,
		"==================================================",
		"Processing complete!",
		"Output directory: "+p.files.Rel(p.files.TaskDir(taskID)),
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	metrics.RecordTask(string(domain.StatusCompleted))
	p.publish(ctx, events.TypeCompleted, done)
	return nil
}

// Abandon fails a task that was queued but will never be picked up. The task
// still passes through processing so its status history stays linear.
func (p *Pipeline) Abandon(ctx context.Context, taskID, cause string) error {
	tr := p.track(taskID)
	task, err := tr.enter(ctx)
	if err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}
	p.publish(ctx, events.TypeStarted, task)

	task, err = tr.fail(ctx, cause)
	if err != nil {
		return err
	}
	metrics.RecordTask(string(domain.StatusFailed))
	metrics.RecordFailure("abandoned")
	p.publish(ctx, events.TypeFailed, task)
	return nil
}

func (p *Pipeline) failRun(ctx context.Context, tr *tracker, cause error) {
	ctx = context.WithoutCancel(ctx)

	if err := p.files.RemoveOutputs(tr.taskID); err != nil {
		tr.log.WithError(err).Warn("remove partial outputs")
	}

	kind := failureKind(cause)
	task, err := tr.fail(ctx, cause.Error())
	if err != nil {
		tr.log.WithError(err).Error("record task failure")
		return
	}
	metrics.RecordTask(string(domain.StatusFailed))
	metrics.RecordFailure(kind)
	p.publish(ctx, events.TypeFailed, task)
}

func (p *Pipeline) publish(ctx context.Context, eventType string, task domain.Task) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := p.publisher.Publish(ctx, events.FromTask(eventType, task, p.now()))
	metrics.RecordEvent(eventType, err)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"task_id": task.ID,
			"event":   eventType,
		}).WithError(err).Warn("publish task event")
	}
}

func (p *Pipeline) execute(ctx context.Context, tr *tracker, task domain.Task) (domain.ResultBundle, error) {
	pages, err := p.rasterize(ctx, tr, task.ID)
	if err != nil {
		return domain.ResultBundle{}, err
	}

	total := len(pages)
	if err := tr.step(ctx, 35, "Loading OCR model...", "Loading OCR model"); err != nil {
		return domain.ResultBundle{}, err
	}
	if err := p.recognizer.EnsureReady(ctx); err != nil {
		return domain.ResultBundle{}, err
	}
	if err := tr.step(ctx, 40, fmt.Sprintf("Recognizing page 1/%d...", total),
		"OCR model ready",
		fmt.Sprintf("Starting recognition, %d pages", total),
	); err != nil {
		return domain.ResultBundle{}, err
	}

	records, err := p.recognize(ctx, tr, task.TaskType, pages)
	if err != nil {
		return domain.ResultBundle{}, err
	}

	return p.assemble(ctx, tr, task, pages, records)
}

func (p *Pipeline) rasterize(ctx context.Context, tr *tracker, taskID string) ([]services.PageImage, error) {
	if err := tr.step(ctx, 10, "Converting PDF to images...", "Converting PDF to images"); err != nil {
		return nil, err
	}

	pagesDir, err := p.files.PreparePagesDir(taskID)
	if err != nil {
		return nil, domain.IOError("prepare output directory", err)
	}
	if err := tr.note(ctx, "  - Output directory: "+p.files.Rel(pagesDir)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.files.UploadPath(taskID))
	if err != nil {
		return nil, domain.IOError("read uploaded pdf", err)
	}

	started := time.Now()
	pages, err := p.rasterizer.Rasterize(ctx, data, pagesDir)
	metrics.ObserveStage("rasterize", started)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	err = tr.step(ctx, 30, fmt.Sprintf("Converted %d pages to images", len(pages)),
		fmt.Sprintf("PDF converted, %d pages", len(pages)))
	return pages, err
}

// recognize runs every page in order. A failed page becomes a record with an
// error; only cancellation or a registry failure stops the loop.
func (p *Pipeline) recognize(ctx context.Context, tr *tracker, taskType string, pages []services.PageImage) ([]domain.PageRecord, error) {
	total := len(pages)
	records := make([]domain.PageRecord, 0, total)
	started := time.Now()
	defer metrics.ObserveStage("recognize", started)

	for idx, page := range pages {
		n := idx + 1
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tr.step(ctx, 40+30*idx/total, fmt.Sprintf("Recognizing page %d/%d...", n, total),
			fmt.Sprintf("  - Processing page %d/%d: %s", n, total, filepath.Base(page.Path)),
		); err != nil {
			return nil, err
		}

		rec, pageErr := p.recognizePage(ctx, taskType, page)
		if pageErr != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RecordPage(pageErr == nil)
		records = append(records, rec)

		entry := fmt.Sprintf("    ✓ Recognized (%d characters)", len([]rune(rec.Text)))
		if pageErr != nil {
			entry = "    ✗ Recognition failed: " + rec.Error
			tr.log.WithField("page", n).WithError(pageErr).Warn("page recognition failed")
		}
		if err := tr.step(ctx, 40+30*n/total, "", entry); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (p *Pipeline) recognizePage(ctx context.Context, taskType string, page services.PageImage) (domain.PageRecord, error) {
	rec := domain.PageRecord{
		PageNumber: page.PageNumber,
		ImagePath:  p.files.Rel(page.Path),
		TaskType:   taskType,
		Width:      page.Width,
		Height:     page.Height,
	}

	text, err := p.recognizer.Recognize(ctx, page.Path, taskType)
	if err != nil {
		rec.Error = err.Error()
		return rec, err
	}

	annotated := storage.AnnotatedPath(page.Path)
	if err := p.annotator.Annotate(page.Path, annotated, taskType); err != nil {
		rec.Error = err.Error()
		return rec, err
	}

	rec.Text = text
	rec.AnnotatedImage = p.files.Rel(annotated)
	return rec, nil
}

func (p *Pipeline) assemble(ctx context.Context, tr *tracker, task domain.Task, pages []services.PageImage, records []domain.PageRecord) (domain.ResultBundle, error) {
	var zero domain.ResultBundle
	started := time.Now()
	defer metrics.ObserveStage("assemble", started)

	succeeded := 0
	for _, rec := range records {
		if !rec.Failed() {
			succeeded++
		}
	}
	if err := tr.step(ctx, 70, "Recognition finished, generating Markdown...",
		fmt.Sprintf("Recognition finished, %d/%d pages succeeded", succeeded, len(records)),
		"Generating Markdown document",
	); err != nil {
		return zero, err
	}

	docName := documentName(task.SourceName)
	markdown, summary := services.Assemble(records, docName)

	mdPath := p.files.MarkdownPath(task.ID)
	if err := storage.WriteFile(mdPath, []byte(markdown)); err != nil {
		return zero, domain.IOError("save markdown", err)
	}
	if err := tr.step(ctx, 80, "Markdown saved",
		fmt.Sprintf("  - Markdown generated (%d characters)", len([]rune(markdown))),
		"Markdown saved: "+storage.MarkdownName,
	); err != nil {
		return zero, err
	}

	recordsPath := p.files.RecordsPath(task.ID)
	if err := writeJSON(recordsPath, records); err != nil {
		return zero, domain.IOError("save recognition records", err)
	}
	if err := tr.step(ctx, 90, "Recognition records saved", "Recognition records saved: "+storage.RecordsName); err != nil {
		return zero, err
	}

	bundle := domain.ResultBundle{
		TaskID:      task.ID,
		PDFName:     docName,
		ProcessedAt: p.now(),
		Summary:     summary,
		Files: domain.ResultFiles{
			Markdown:        p.files.Rel(mdPath),
			OCRJSON:         p.files.Rel(recordsPath),
			Report:          p.files.Rel(p.files.ReportPath(task.ID)),
			Images:          make([]string, 0, len(pages)),
			AnnotatedImages: []string{},
		},
	}
	for _, page := range pages {
		bundle.Files.Images = append(bundle.Files.Images, p.files.Rel(page.Path))
	}
	for _, rec := range records {
		if rec.AnnotatedImage != "" {
			bundle.Files.AnnotatedImages = append(bundle.Files.AnnotatedImages, rec.AnnotatedImage)
		}
	}

	if err := writeJSON(p.files.MetadataPath(task.ID), bundle); err != nil {
		return zero, domain.IOError("save metadata", err)
	}
	if err := tr.step(ctx, 95, "Metadata saved",
		fmt.Sprintf("  - Total pages: %d", summary.TotalPages),
		fmt.Sprintf("  - Successful pages: %d", summary.SuccessfulPages),
		fmt.Sprintf("  - Recognized characters: %d", summary.TotalCharacters),
		"Metadata saved: "+storage.MetadataName,
	); err != nil {
		return zero, err
	}

	if err := p.reporter.GenerateReport(bundle, records, p.files.ReportPath(task.ID)); err != nil {
		return zero, domain.IOError("save conversion report", err)
	}
	if err := tr.note(ctx, "Report saved: "+storage.ReportName); err != nil {
		return zero, err
	}

	p.mirrorOutputs(ctx, tr, task.ID)
	return bundle, nil
}

// mirrorOutputs copies the finished directory to object storage. Failures are
// recorded in the audit trail only.
func (p *Pipeline) mirrorOutputs(ctx context.Context, tr *tracker, taskID string) {
	if p.mirror == nil {
		return
	}
	count, err := p.mirror.MirrorTask(ctx, taskID, p.files.TaskDir(taskID))
	entry := fmt.Sprintf("Mirrored %d files to object storage", count)
	if err != nil {
		tr.log.WithError(err).Warn("mirror outputs")
		entry = "Object storage mirror failed: " + err.Error()
	}
	if err := tr.note(ctx, entry); err != nil {
		tr.log.WithError(err).Warn("record mirror outcome")
	}
}

// failureKind labels a task-fatal error by the concern that failed.
func failureKind(err error) string {
	for _, kind := range failureKinds {
		if domain.IsKind(err, kind) {
			return string(kind)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}

func documentName(source string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if name == "" {
		return "document"
	}
	return name
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFile(path, data)
}
