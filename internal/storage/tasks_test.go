package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2md/internal/domain"
)

func newTask(id string) domain.Task {
	return domain.NewTask(id, id+".pdf", domain.TaskTypeOCR, time.Now())
}

// exerciseStore runs the registry contract against any backend.
func exerciseStore(t *testing.T, store TaskStore) {
	t.Helper()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, newTask(id))
		require.NoError(t, err)
	}

	_, err := store.Create(ctx, newTask("b"))
	assert.ErrorIs(t, err, domain.ErrTaskExists)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)

	updated, err := store.Update(ctx, "b", func(task *domain.Task) error {
		task.AppendLog(time.Now(), "hello")
		return task.Start(time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, updated.Status)

	_, err = store.Update(ctx, "b", func(task *domain.Task) error {
		task.AppendLog(time.Now(), "discarded")
		return errors.New("mutator failed")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, got.Logs, 1, "a failing mutator must not leave partial writes")

	_, err = store.Update(ctx, "missing", func(*domain.Task) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.ErrorIs(t, store.Delete(ctx, "a"), domain.ErrTaskNotFound)

	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryTaskStore(t *testing.T) {
	exerciseStore(t, NewMemoryTaskStore())
}

func TestMemoryTaskStoreSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	_, err := store.Create(ctx, newTask("a"))
	require.NoError(t, err)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	got.Logs = append(got.Logs, "sneaky")
	got.Status = domain.StatusCompleted

	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, again.Logs)
	assert.Equal(t, domain.StatusQueued, again.Status)
}

func TestMemoryTaskStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	_, err := store.Create(ctx, newTask("a"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Update(ctx, "a", func(task *domain.Task) error {
				task.AppendLog(time.Now(), fmt.Sprintf("entry %d", i))
				return nil
			})
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got.Logs, 50)
}

func TestFileTaskStore(t *testing.T) {
	exerciseStore(t, mustFileStore(t, t.TempDir()))
}

func TestFileTaskStoreReloadFailsInterruptedTasks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := mustFileStore(t, dir)
	_, err := store.Create(ctx, newTask("done"))
	require.NoError(t, err)
	_, err = store.Create(ctx, newTask("running"))
	require.NoError(t, err)
	_, err = store.Create(ctx, newTask("waiting"))
	require.NoError(t, err)

	_, err = store.Update(ctx, "done", func(task *domain.Task) error {
		if err := task.Start(time.Now()); err != nil {
			return err
		}
		return task.Complete(time.Now(), domain.ResultBundle{TaskID: "done"}, "ok")
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, "running", func(task *domain.Task) error {
		return task.Start(time.Now())
	})
	require.NoError(t, err)

	reloaded := mustFileStore(t, dir)
	list, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "done", list[0].ID)
	assert.Equal(t, domain.StatusCompleted, list[0].Status)
	require.NotNil(t, list[0].Result)

	assert.Equal(t, domain.StatusFailed, list[1].Status)
	assert.Equal(t, interruptedCause, list[1].Error)

	waiting := list[2]
	assert.Equal(t, "waiting", waiting.ID)
	assert.Equal(t, domain.StatusFailed, waiting.Status)
	assert.Equal(t, interruptedCause, waiting.Error)
	require.Len(t, waiting.Logs, 2)
	assert.Contains(t, waiting.Logs[0], "Task started")
	assert.Contains(t, waiting.Logs[1], "Processing failed: "+interruptedCause)
}

func TestRedisTaskStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}

	prefix := fmt.Sprintf("pdf2md-test-%d:", time.Now().UnixNano())
	store, err := NewRedisTaskStore(context.Background(), RedisConfig{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := store.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
		store.Close()
	})

	exerciseStore(t, store)
}

func TestRedisTaskStoreDuplicateCreateKeepsOrder(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("pdf2md-test-%d:", time.Now().UnixNano())
	store, err := NewRedisTaskStore(ctx, RedisConfig{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := store.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
		store.Close()
	})

	for _, id := range []string{"a", "b"} {
		_, err := store.Create(ctx, newTask(id))
		require.NoError(t, err)
	}
	score, err := store.client.ZScore(ctx, store.orderKey(), "a").Result()
	require.NoError(t, err)

	_, err = store.Create(ctx, newTask("a"))
	assert.ErrorIs(t, err, domain.ErrTaskExists)

	again, err := store.client.ZScore(ctx, store.orderKey(), "a").Result()
	require.NoError(t, err)
	assert.Equal(t, score, again)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func mustFileStore(t *testing.T, dir string) *FileTaskStore {
	t.Helper()
	store, err := NewFileTaskStore(dir)
	require.NoError(t, err)
	return store
}
