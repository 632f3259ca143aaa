package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/flicker/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, debounce time.Duration) (*atomic.Int32, context.CancelFunc) {
	t.Helper()
	w, err := New(path, debounce, logging.Discard())
	require.NoError(t, err)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) { calls.Add(1) })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return &calls, cancel
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.lisp")
	require.NoError(t, os.WriteFile(path, []byte("(osc)"), 0o644))

	calls, _ := startWatcher(t, path, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("(noise)"), 0o644))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	// The burst collapses into a single callback.
	assert.Never(t, func() bool { return calls.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: []"), 0o644))

	calls, _ := startWatcher(t, path, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	assert.Never(t, func() bool { return calls.Load() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestWatcher_SeesRenameOverOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	calls, _ := startWatcher(t, path, 10*time.Millisecond)

	tmp := filepath.Join(dir, ".patch.hcl.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`node "o" { type = "osc" }`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.json")

	w, err := New(path, 0, logging.Discard())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, path, w.Path())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, func(context.Context) {}) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "patch.yaml"), 0, logging.Discard())
	assert.Error(t, err)
}
