package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pdf2md/internal/domain"
)

const interruptedCause = "interrupted by restart"

type snapshot struct {
	Tasks []domain.Task `json:"tasks"`
}

// FileTaskStore is a MemoryTaskStore that rewrites a JSON snapshot after
// every mutation so task records survive a restart.
type FileTaskStore struct {
	*MemoryTaskStore
	path string
}

func NewFileTaskStore(baseDir string) (*FileTaskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := &FileTaskStore{
		MemoryTaskStore: NewMemoryTaskStore(),
		path:            filepath.Join(baseDir, "tasks.json"),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	store.afterWrite = store.saveLocked
	return store, nil
}

func (s *FileTaskStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open task snapshot: %w", err)
	}
	defer file.Close()

	var data snapshot
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return s.saveLocked()
		}
		return fmt.Errorf("decode task snapshot: %w", err)
	}

	now := time.Now()
	for _, task := range data.Tasks {
		task := task.Clone()
		if !task.Status.Terminal() {
			// The run that owned this task died with the previous process.
			if task.Status == domain.StatusQueued {
				_ = task.Start(now)
				task.AppendLog(now, "Task started")
			}
			task.AppendLog(now, "✗ Processing failed: "+interruptedCause)
			_ = task.Fail(now, interruptedCause)
		}
		s.tasks[task.ID] = &task
		s.order = append(s.order, task.ID)
	}
	return s.saveLocked()
}

func (s *FileTaskStore) saveLocked() error {
	data := snapshot{Tasks: make([]domain.Task, 0, len(s.order))}
	for _, id := range s.order {
		data.Tasks = append(data.Tasks, *s.tasks[id])
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "tasks-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}
