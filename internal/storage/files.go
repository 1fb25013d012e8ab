package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrUploadTooLarge = errors.New("pdf file exceeds maximum size")

const (
	pagesDirName    = "pages"
	MarkdownName    = "document.md"
	RecordsName     = "ocr_results.json"
	MetadataName    = "metadata.json"
	ReportName      = "report.pdf"
	annotatedSuffix = "_annotated"
)

// FileManager owns the on-disk layout: uploads/<task>.pdf and
// outputs/<task>/{pages/,document.md,ocr_results.json,metadata.json,report.pdf}.
type FileManager struct {
	baseDir        string
	uploadDir      string
	outputDir      string
	maxUploadBytes int64
}

func NewFileManager(baseDir string, maxUploadBytes int64) (*FileManager, error) {
	fm := &FileManager{
		baseDir:        baseDir,
		uploadDir:      filepath.Join(baseDir, "uploads"),
		outputDir:      filepath.Join(baseDir, "outputs"),
		maxUploadBytes: maxUploadBytes,
	}

	dirs := []string{fm.baseDir, fm.uploadDir, fm.outputDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

func (fm *FileManager) UploadPath(taskID string) string {
	return filepath.Join(fm.uploadDir, taskID+".pdf")
}

func (fm *FileManager) TaskDir(taskID string) string {
	return filepath.Join(fm.outputDir, taskID)
}

func (fm *FileManager) PagesDir(taskID string) string {
	return filepath.Join(fm.TaskDir(taskID), pagesDirName)
}

func (fm *FileManager) MarkdownPath(taskID string) string {
	return filepath.Join(fm.TaskDir(taskID), MarkdownName)
}

func (fm *FileManager) RecordsPath(taskID string) string {
	return filepath.Join(fm.TaskDir(taskID), RecordsName)
}

func (fm *FileManager) MetadataPath(taskID string) string {
	return filepath.Join(fm.TaskDir(taskID), MetadataName)
}

func (fm *FileManager) ReportPath(taskID string) string {
	return filepath.Join(fm.TaskDir(taskID), ReportName)
}

// AnnotatedPath returns the sibling path of a page image for its annotated copy.
func AnnotatedPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + annotatedSuffix + ".jpg"
}

// PageImagePath resolves a file name inside the task's pages directory. It
// rejects anything that is not a bare file name.
func (fm *FileManager) PageImagePath(taskID, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid image name %q", filename)
	}
	return filepath.Join(fm.PagesDir(taskID), filename), nil
}

// Rel expresses path relative to the outputs root, using forward slashes.
func (fm *FileManager) Rel(path string) string {
	rel, err := filepath.Rel(fm.outputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (fm *FileManager) PreparePagesDir(taskID string) (string, error) {
	dir := fm.PagesDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create pages dir: %w", err)
	}
	return dir, nil
}

// SaveUpload writes the uploaded PDF for taskID, enforcing the size limit.
func (fm *FileManager) SaveUpload(taskID string, r io.Reader) (string, error) {
	path := fm.UploadPath(taskID)
	if err := fm.writeWithLimit(path, r); err != nil {
		return "", err
	}
	return path, nil
}

func (fm *FileManager) writeWithLimit(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create pdf file: %w", err)
	}

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	src := r
	if fm.maxUploadBytes > 0 {
		src = io.LimitReader(r, fm.maxUploadBytes+1)
	}

	written, err := io.Copy(out, src)
	if err != nil {
		return cleanup(fmt.Errorf("write pdf file: %w", err))
	}
	if fm.maxUploadBytes > 0 && written > fm.maxUploadBytes {
		return cleanup(ErrUploadTooLarge)
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close pdf file: %w", err)
	}
	return nil
}

// WriteFile writes data atomically next to its final location.
func WriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RemoveTask deletes the upload and the whole output directory of a task.
func (fm *FileManager) RemoveTask(taskID string) error {
	var errs []error
	if err := os.Remove(fm.UploadPath(taskID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove upload: %w", err))
	}
	if err := os.RemoveAll(fm.TaskDir(taskID)); err != nil {
		errs = append(errs, fmt.Errorf("remove output dir: %w", err))
	}
	return errors.Join(errs...)
}

// RemoveOutputs clears partial artifacts of a run that failed.
func (fm *FileManager) RemoveOutputs(taskID string) error {
	return os.RemoveAll(fm.TaskDir(taskID))
}
