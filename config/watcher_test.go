package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- helpers ---

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(ev FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ops() []FileOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FileOp, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Op
	}
	return out
}

func startWatcher(t *testing.T, paths ...string) (*FileWatcher, *eventLog) {
	t.Helper()
	w, err := NewFileWatcher(paths,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(5*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	log := &eventLog{}
	w.OnChange(log.add)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, log
}

// --- tests ---

func TestNewFileWatcher_Validation(t *testing.T) {
	_, err := NewFileWatcher(nil)
	require.Error(t, err)

	w, err := NewFileWatcher([]string{"/nonexistent/agents.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/nonexistent/agents.yaml"}, w.Paths())
	assert.False(t, w.IsRunning())
}

func TestFileWatcher_DetectsWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: []"), 0o644))
	w, log := startWatcher(t, path)
	assert.True(t, w.IsRunning())

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	require.Eventually(t, func() bool { return len(log.ops()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []FileOp{FileOpWrite}, log.ops())

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(log.ops()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FileOpRemove, log.ops()[1])
}

func TestFileWatcher_DetectsCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.yaml")
	_, log := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.Eventually(t, func() bool { return len(log.ops()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FileOpCreate, log.ops()[0])
	assert.Equal(t, "CREATE", FileOpCreate.String())
}

func TestFileWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	w, err := NewFileWatcher([]string{path}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.Error(t, w.Start(context.Background()))
	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop()
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
