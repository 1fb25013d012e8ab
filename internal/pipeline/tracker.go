package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"pdf2md/internal/domain"
	"pdf2md/internal/storage"
)

// tracker is the only writer of a running task. Every call is one atomic
// registry update; each audit entry is mirrored to the process logger.
type tracker struct {
	store  storage.TaskStore
	taskID string
	log    *logrus.Entry
	now    func() time.Time
}

func (t *tracker) update(ctx context.Context, msgs []string, fn func(*domain.Task, time.Time) error) (domain.Task, error) {
	at := t.now()
	task, err := t.store.Update(ctx, t.taskID, func(task *domain.Task) error {
		if err := fn(task, at); err != nil {
			return err
		}
		for _, m := range msgs {
			task.AppendLog(at, m)
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	for _, m := range msgs {
		t.log.WithField("progress", task.Progress).Info(m)
	}
	return task, nil
}

func (t *tracker) start(ctx context.Context) (domain.Task, error) {
	return t.update(ctx, []string{"Task started"}, func(task *domain.Task, at time.Time) error {
		if err := task.Start(at); err != nil {
			return err
		}
		return task.Advance(at, 5, "Starting processing...")
	})
}

// enter moves a queued task into processing without advancing it.
func (t *tracker) enter(ctx context.Context) (domain.Task, error) {
	return t.update(ctx, []string{"Task started"}, func(task *domain.Task, at time.Time) error {
		return task.Start(at)
	})
}

// step moves progress and the current message, logging entries in order.
func (t *tracker) step(ctx context.Context, progress int, message string, entries ...string) error {
	_, err := t.update(ctx, entries, func(task *domain.Task, at time.Time) error {
		return task.Advance(at, progress, message)
	})
	return err
}

// note appends audit entries without touching progress.
func (t *tracker) note(ctx context.Context, entries ...string) error {
	_, err := t.update(ctx, entries, func(*domain.Task, time.Time) error { return nil })
	return err
}

func (t *tracker) complete(ctx context.Context, bundle domain.ResultBundle, entries ...string) (domain.Task, error) {
	return t.update(ctx, entries, func(task *domain.Task, at time.Time) error {
		return task.Complete(at, bundle, "Processing complete")
	})
}

func (t *tracker) fail(ctx context.Context, cause string) (domain.Task, error) {
	return t.update(ctx, []string{"Processing failed: " + cause}, func(task *domain.Task, at time.Time) error {
		return task.Fail(at, cause)
	})
}
