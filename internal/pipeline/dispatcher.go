package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pdf2md/internal/domain"
	"pdf2md/internal/metrics"
)

// Runner executes queued tasks. Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, taskID string) error
	Abandon(ctx context.Context, taskID, cause string) error
}

// Dispatcher decouples submission from execution: Submit never blocks, and a
// fixed set of workers drains the queue.
type Dispatcher struct {
	runner  Runner
	queue   chan string
	workers int
	logger  *logrus.Logger
}

func NewDispatcher(runner Runner, workers, queueSize int, logger *logrus.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		runner:  runner,
		queue:   make(chan string, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Submit enqueues a task id or returns domain.ErrQueueFull.
func (d *Dispatcher) Submit(taskID string) error {
	select {
	case d.queue <- taskID:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return fmt.Errorf("%w: %s", domain.ErrQueueFull, taskID)
	}
}

// Pending is the number of tasks waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run blocks until ctx is cancelled and all workers have returned. Tasks still
// queued at that point are failed so they do not stay queued forever.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.WithField("workers", d.workers).Info("task workers started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(gctx, worker)
			return nil
		})
	}
	err := g.Wait()

	d.drain(context.WithoutCancel(ctx))
	d.logger.Info("task workers stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case taskID := <-d.queue:
			metrics.QueueDepth.Dec()
			log := d.logger.WithFields(logrus.Fields{"task_id": taskID, "worker": worker})
			log.Info("task picked up")
			if err := d.runner.Run(ctx, taskID); err != nil {
				log.WithError(err).Error("task failed")
				continue
			}
			log.Info("task finished")
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case taskID := <-d.queue:
			metrics.QueueDepth.Dec()
			if err := d.runner.Abandon(ctx, taskID, "server shutting down"); err != nil {
				d.logger.WithField("task_id", taskID).WithError(err).Warn("abandon queued task")
			}
		default:
			return
		}
	}
}
