package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	task := NewTask("t1", "doc.pdf", TaskTypeOCR, now)

	assert.Equal(t, StatusQueued, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Nil(t, task.Result)
	assert.Empty(t, task.Error)

	require.Error(t, task.Advance(now, 10, "too early"))

	require.NoError(t, task.Start(now))
	require.ErrorIs(t, task.Start(now), ErrInvalidTransition)

	require.NoError(t, task.Advance(now, 40, "recognizing"))
	require.NoError(t, task.Advance(now, 20, "late update"))
	assert.Equal(t, 40, task.Progress, "progress must not decrease")
	assert.Equal(t, "late update", task.Message)

	require.NoError(t, task.Advance(now, 150, "overshoot"))
	assert.Equal(t, 99, task.Progress, "only completion reaches 100")

	require.NoError(t, task.Complete(now, ResultBundle{TaskID: "t1"}, "done"))
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.Result)

	err := task.Fail(now, "boom")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Empty(t, task.Error)
}

func TestTaskFailKeepsProgress(t *testing.T) {
	now := time.Now()
	task := NewTask("t2", "doc.pdf", TaskTypeOCR, now)
	require.NoError(t, task.Start(now))
	require.NoError(t, task.Advance(now, 30, "rasterized"))
	require.NoError(t, task.Fail(now, "corrupt pdf"))

	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 30, task.Progress)
	assert.Equal(t, "corrupt pdf", task.Error)
	assert.Nil(t, task.Result)
	assert.ErrorIs(t, task.Complete(now, ResultBundle{}, "done"), ErrInvalidTransition)
}

func TestTaskFailRequiresProcessing(t *testing.T) {
	now := time.Now()
	task := NewTask("t5", "doc.pdf", TaskTypeOCR, now)

	assert.ErrorIs(t, task.Fail(now, "server shutting down"), ErrInvalidTransition)
	assert.Equal(t, StatusQueued, task.Status)
	assert.Empty(t, task.Error)

	require.NoError(t, task.Start(now))
	require.NoError(t, task.Fail(now, "server shutting down"))
	assert.Equal(t, StatusFailed, task.Status)
	assert.ErrorIs(t, task.Fail(now, "again"), ErrInvalidTransition)
}

func TestAppendLogFormat(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	task := NewTask("t3", "a.pdf", TaskTypeOCR, at)
	task.AppendLog(at, "first")
	task.AppendLog(at, "second")

	assert.Equal(t, []string{"[14:05:09] first", "[14:05:09] second"}, task.Logs)
}

func TestCloneIsDeep(t *testing.T) {
	task := NewTask("t4", "a.pdf", TaskTypeOCR, time.Now())
	task.AppendLog(time.Now(), "entry")
	task.Result = &ResultBundle{Files: ResultFiles{Images: []string{"a.jpg"}}}

	clone := task.Clone()
	clone.Logs[0] = "changed"
	clone.Result.Files.Images[0] = "b.jpg"

	assert.NotEqual(t, "changed", task.Logs[0])
	assert.Equal(t, "a.jpg", task.Result.Files.Images[0])
}

func TestErrorKinds(t *testing.T) {
	err := ConversionError("open pdf", errors.New("bad xref"))
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, IsKind(wrapped, KindConversion))
	assert.False(t, IsKind(wrapped, KindIO))
	assert.Equal(t, "open pdf: bad xref", err.Error())
}

func TestValidTaskType(t *testing.T) {
	for _, tt := range []string{TaskTypeOCR, TaskTypeTable, TaskTypeFormula, TaskTypeChart} {
		assert.True(t, ValidTaskType(tt), tt)
	}
	assert.False(t, ValidTaskType("handwriting"))
}
