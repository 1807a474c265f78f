package context

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// ErrVersionConflict CompareAndSet 的期望版本与当前版本不一致
var ErrVersionConflict = errors.New("context: version conflict")

const lockStripes = 32

// Entry 不可变的键值条目
type Entry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	deleted   bool
}

// namespace 一个独立的键空间
type namespace struct {
	entries sync.Map // string -> *Entry
	locks   [lockStripes]sync.Mutex
	now     func() time.Time
}

func newNamespace(now func() time.Time) *namespace {
	return &namespace{now: now}
}

func (n *namespace) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &n.locks[h.Sum32()%lockStripes]
}

func (n *namespace) load(key string) (*Entry, bool) {
	v, ok := n.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// get 返回当前值；墓碑视为不存在
func (n *namespace) get(key string) (Entry, bool) {
	e, ok := n.load(key)
	if !ok || e.deleted {
		return Entry{}, false
	}
	return *e, true
}

func (n *namespace) version(key string) uint64 {
	if e, ok := n.load(key); ok {
		return e.Version
	}
	return 0
}

func (n *namespace) set(key string, value any) Entry {
	mu := n.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return n.storeLocked(key, value, false)
}

// compareAndSet 仅当当前版本等于 expected 时写入。expected 为 0 表示键必须不存在。
func (n *namespace) compareAndSet(key string, expected uint64, value any) (Entry, error) {
	mu := n.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	current, ok := n.load(key)
	live := ok && !current.deleted
	switch {
	case expected == 0 && live:
		return *current, fmt.Errorf("%w: key %q already exists at version %d", ErrVersionConflict, key, current.Version)
	case expected != 0 && (!live || current.Version != expected):
		var have uint64
		if live {
			have = current.Version
		}
		return Entry{}, fmt.Errorf("%w: key %q expected version %d, have %d", ErrVersionConflict, key, expected, have)
	}
	return n.storeLocked(key, value, false), nil
}

func (n *namespace) delete(key string) bool {
	mu := n.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	if e, ok := n.load(key); !ok || e.deleted {
		return false
	}
	n.storeLocked(key, nil, true)
	return true
}

// storeLocked 调用方必须持有 key 对应的分段锁
func (n *namespace) storeLocked(key string, value any, deleted bool) Entry {
	e := &Entry{
		Key:       key,
		Value:     value,
		Version:   n.version(key) + 1,
		UpdatedAt: n.now(),
		deleted:   deleted,
	}
	n.entries.Store(key, e)
	return *e
}

func (n *namespace) snapshot() map[string]any {
	out := make(map[string]any)
	n.entries.Range(func(k, v any) bool {
		if e := v.(*Entry); !e.deleted {
			out[k.(string)] = e.Value
		}
		return true
	})
	return out
}

func (n *namespace) keys() []string {
	var out []string
	n.entries.Range(func(k, v any) bool {
		if !v.(*Entry).deleted {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

func (n *namespace) clear() {
	n.entries.Range(func(k, _ any) bool {
		n.entries.Delete(k)
		return true
	})
}
