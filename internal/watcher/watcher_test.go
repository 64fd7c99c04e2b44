package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/agentmap/internal/watcher"
)

func startWatcher(t *testing.T, paths ...string) <-chan watcher.Change {
	t.Helper()
	w, err := watcher.New(watcher.Config{
		Paths:    paths,
		Debounce: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")
	return onChange
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "workflow.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("GraphName,Node\n"), 0644))

	onChange := startWatcher(t, csvPath)

	// Rapid writes should coalesce into single notification
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(csvPath, []byte(fmt.Sprintf("GraphName,Node\nG,n%d\n", i)), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case change := <-onChange:
		abs, _ := filepath.Abs(csvPath)
		assert.Equal(t, []string{abs}, change.Paths)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "workflow.csv")
	otherPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(csvPath, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(otherPath, []byte("initial"), 0644))

	onChange := startWatcher(t, csvPath)

	require.NoError(t, os.WriteFile(otherPath, []byte("other content"), 0644))

	select {
	case <-onChange:
		t.Fatal("should not notify for unrelated files")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_MultipleFilesOneBurst(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "workflow.csv")
	declPath := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(csvPath, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(declPath, []byte("agents: {}"), 0644))

	onChange := startWatcher(t, csvPath, declPath)

	require.NoError(t, os.WriteFile(csvPath, []byte("y"), 0644))
	require.NoError(t, os.WriteFile(declPath, []byte("services: {}"), 0644))

	select {
	case change := <-onChange:
		absCSV, _ := filepath.Abs(csvPath)
		absDecl, _ := filepath.Abs(declPath)
		assert.Equal(t, []string{absDecl, absCSV}, change.Paths, "sorted")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "workflow.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x"), 0644))

	onChange := startWatcher(t, csvPath)

	tmp := filepath.Join(dir, "workflow.csv.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("replaced"), 0644))
	require.NoError(t, os.Rename(tmp, csvPath))

	select {
	case <-onChange:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification for replaced file")
	}
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "workflow.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x"), 0644))

	w, err := watcher.New(watcher.DefaultConfig(csvPath))
	require.NoError(t, err)
	_, err = w.Start()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Stop(), "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)

	w, err := watcher.New(watcher.DefaultConfig(filepath.Join(t.TempDir(), "missing", "workflow.csv")))
	require.NoError(t, err, "directories are only added on Start")
	_, err = w.Start()
	require.Error(t, err)
	require.NoError(t, w.Stop())
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/work/workflow.csv")

	assert.Equal(t, []string{"/work/workflow.csv"}, cfg.Paths)
	assert.Equal(t, watcher.DefaultDebounce, cfg.Debounce)
}
