package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/index"
	"docrag/internal/watch"
)

func startWatcher(t *testing.T, dir string, debounce time.Duration, trigger watch.TriggerFunc) {
	t.Helper()
	w, err := watch.New(dir, debounce, trigger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, 200*time.Millisecond, func(ctx context.Context, reason string) error {
		calls.Add(1)
		return nil
	})

	for _, name := range []string{"a.pdf", "b.docx", "c.PDF"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_RetriesWhileRebuildRuns(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	reasons := make(chan string, 4)
	startWatcher(t, dir, 100*time.Millisecond, func(ctx context.Context, reason string) error {
		reasons <- reason
		if calls.Add(1) == 1 {
			return index.ErrRebuildInProgress
		}
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.pdf"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "a successful trigger ends the retries")

	assert.Equal(t, "raw directory changed (1 files)", <-reasons)
	assert.Equal(t, "raw directory changed (1 files)", <-reasons)
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, 50*time.Millisecond, func(ctx context.Context, reason string) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNew_MissingDir(t *testing.T) {
	_, err := watch.New(filepath.Join(t.TempDir(), "missing"), time.Second, nil)
	assert.Error(t, err)
}
