package domain

import (
	"fmt"
	"time"
)

const logTimeLayout = "15:04:05"

// NewTask builds a queued task. Progress is 0 and neither result nor error is set.
func NewTask(id, sourceName, taskType string, now time.Time) Task {
	return Task{
		ID:         id,
		SourceName: sourceName,
		TaskType:   taskType,
		Status:     StatusQueued,
		Message:    "Task created, waiting to be processed...",
		Logs:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// FormatLog renders an audit trail entry.
func FormatLog(at time.Time, message string) string {
	return fmt.Sprintf("[%s] %s", at.Format(logTimeLayout), message)
}

// AppendLog adds an entry to the audit trail. Logs are append-only.
func (t *Task) AppendLog(at time.Time, message string) {
	t.Logs = append(t.Logs, FormatLog(at, message))
	t.UpdatedAt = at
}

// Start moves a queued task into processing. It is the only way in.
func (t *Task) Start(at time.Time) error {
	if t.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusProcessing)
	}
	t.Status = StatusProcessing
	t.UpdatedAt = at
	return nil
}

// Advance records a step of a processing task. Progress never decreases and
// stays below 100 until Complete.
func (t *Task) Advance(at time.Time, progress int, message string) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: advance while %s", ErrInvalidTransition, t.Status)
	}
	if progress > 99 {
		progress = 99
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdatedAt = at
	return nil
}

func (t *Task) Complete(at time.Time, result ResultBundle, message string) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusCompleted)
	}
	t.Status = StatusCompleted
	t.Progress = 100
	t.Message = message
	t.Result = &result
	t.Error = ""
	t.UpdatedAt = at
	return nil
}

// Fail records a task-fatal error of a processing task. A queued task that
// will never run must be started first.
func (t *Task) Fail(at time.Time, cause string) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusFailed)
	}
	t.Status = StatusFailed
	t.Message = "Processing failed: " + cause
	t.Error = cause
	t.Result = nil
	t.UpdatedAt = at
	return nil
}
