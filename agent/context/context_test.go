package context

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestContext() *ExecutionContext {
	return New("ws-1", Options{SessionID: "sess-1", ExecutionID: "run-1", Now: fixedClock()}, nil)
}

func TestExecutionContext_SetGet_LastWriterWins(t *testing.T) {
	t.Parallel()
	c := newTestContext()

	e1 := c.Set("plan", "draft")
	e2 := c.Set("plan", "final")

	assert.Equal(t, uint64(1), e1.Version)
	assert.Equal(t, uint64(2), e2.Version)

	v, ok := c.Get("plan")
	require.True(t, ok)
	assert.Equal(t, "final", v)
	assert.Equal(t, e2.UpdatedAt, c.UpdatedAt())
}

func TestExecutionContext_GetMissing(t *testing.T) {
	t.Parallel()
	c := newTestContext()

	v, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestScope_CompareAndSet(t *testing.T) {
	t.Parallel()
	s := newTestContext().Shared()

	e, err := s.CompareAndSet("counter", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Version)

	// 键已存在时 expected=0 失败
	_, err = s.CompareAndSet("counter", 0, 99)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// 过期版本失败
	_, err = s.CompareAndSet("counter", 5, 99)
	assert.ErrorIs(t, err, ErrVersionConflict)

	e, err = s.CompareAndSet("counter", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Version)

	v, _ := s.Get("counter")
	assert.Equal(t, 2, v)
}

func TestScope_Delete_KeepsVersionMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestContext().Shared()

	s.Set("k", "a")
	s.Set("k", "b")
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Empty(t, s.Keys())

	// 删除后 CAS 以“不存在”为前提
	e, err := s.CompareAndSet("k", 0, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Version)
}

func TestExecutionContext_Namespaces_Isolated(t *testing.T) {
	t.Parallel()
	c := newTestContext()

	c.Set("k", "shared")
	c.Globals().Set("k", "global")
	c.Metadata().Set("k", "meta")
	c.Agent("a1").Set("k", "a1")
	c.Agent("a2").Set("k", "a2")

	get := func(s Scope) any {
		v, _ := s.Get("k")
		return v
	}
	assert.Equal(t, "shared", get(c.Shared()))
	assert.Equal(t, "global", get(c.Globals()))
	assert.Equal(t, "meta", get(c.Metadata()))
	assert.Equal(t, "a1", get(c.Agent("a1")))
	assert.Equal(t, "a2", get(c.Agent("a2")))
	assert.Equal(t, "agent:a1", c.Agent("a1").Name())

	snap := c.Snapshot()
	assert.Equal(t, "ws-1", snap.WorkspaceID)
	assert.Equal(t, "run-1", snap.ExecutionID)
	assert.Equal(t, map[string]any{"k": "shared"}, snap.SharedData)
	assert.Equal(t, map[string]any{"k": "global"}, snap.Globals)
	assert.Len(t, snap.Agents, 2)
	assert.Equal(t, "a2", snap.Agents["a2"]["k"])
}

func TestScope_Update_ConcurrentIncrements(t *testing.T) {
	t.Parallel()
	s := newTestContext().Shared()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.Update("n", func(cur any, ok bool) any {
					if !ok {
						return 1
					}
					return cur.(int) + 1
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	e, ok := s.Entry("n")
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, e.Value)
	assert.Equal(t, uint64(workers*perWorker), e.Version)
}

func TestScope_ConcurrentWritersDistinctKeys(t *testing.T) {
	t.Parallel()
	c := newTestContext()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("task.%d.output", i)
			c.Set(key, i)
			_, _ = c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Shared().Keys(), 32)
}

func TestExecutionContext_Release(t *testing.T) {
	t.Parallel()
	c := newTestContext()
	c.Set("k", "v")
	c.Agent("a1").Set("k", "v")

	c.Release()
	c.Release()

	assert.True(t, c.Released())
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot().Agents)

	c.Set("k", "after")
	_, ok = c.Get("k")
	assert.False(t, ok)

	_, err := c.Shared().CompareAndSet("k", 0, "after")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrVersionConflict))
}

func TestTaskKeys(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "task.t1.input", TaskInputKey("t1"))
	assert.Equal(t, "task.t1.output", TaskOutputKey("t1"))
}

func TestManager_Lifecycle(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	c := m.Create("run-1", "ws-1", Options{})
	assert.Equal(t, "run-1", c.ExecutionID)
	assert.Same(t, c, m.Create("run-1", "ws-other", Options{}))
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get("run-1")
	require.True(t, ok)
	assert.Same(t, c, got)

	m.Release("run-1")
	m.Release("run-1")
	_, ok = m.Get("run-1")
	assert.False(t, ok)
	assert.True(t, c.Released())
	assert.Zero(t, m.Len())
}
