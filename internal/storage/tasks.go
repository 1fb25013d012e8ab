package storage

import (
	"context"
	"fmt"
	"sync"

	"pdf2md/internal/domain"
)

// TaskStore is the Task Registry contract. Get and List return snapshots;
// Update applies fn atomically with respect to readers and other updates.
type TaskStore interface {
	Create(ctx context.Context, task domain.Task) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, id string, fn func(*domain.Task) error) (domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MemoryTaskStore keeps tasks for the lifetime of the process.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	order []string

	// afterWrite runs under the write lock after every successful mutation.
	afterWrite func() error
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: map[string]*domain.Task{}}
}

func (s *MemoryTaskStore) Create(_ context.Context, task domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskExists, task.ID)
	}

	stored := task.Clone()
	s.tasks[task.ID] = &stored
	s.order = append(s.order, task.ID)

	if err := s.persistLocked(); err != nil {
		delete(s.tasks, task.ID)
		s.order = s.order[:len(s.order)-1]
		return domain.Task{}, err
	}
	return stored.Clone(), nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return task.Clone(), nil
}

func (s *MemoryTaskStore) Update(_ context.Context, id string, fn func(*domain.Task) error) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}

	// Work on a copy so a failing mutator leaves no partial write behind.
	draft := task.Clone()
	if err := fn(&draft); err != nil {
		return domain.Task{}, err
	}
	draft.ID = task.ID
	draft.SourceName = task.SourceName
	draft.CreatedAt = task.CreatedAt

	previous := *task
	*task = draft
	if err := s.persistLocked(); err != nil {
		*task = previous
		return domain.Task{}, err
	}
	return draft.Clone(), nil
}

func (s *MemoryTaskStore) List(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}

	delete(s.tasks, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.persistLocked()
}

func (s *MemoryTaskStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *MemoryTaskStore) persistLocked() error {
	if s.afterWrite == nil {
		return nil
	}
	return s.afterWrite()
}
