package context

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskInputKey 任务输入在共享数据中的键
func TaskInputKey(taskID string) string { return fmt.Sprintf("task.%s.input", taskID) }

// TaskOutputKey 任务输出在共享数据中的键
func TaskOutputKey(taskID string) string { return fmt.Sprintf("task.%s.output", taskID) }

// Options 创建执行上下文的可选项
type Options struct {
	SessionID   string
	ExecutionID string
	// Now 时钟，测试可替换
	Now func() time.Time
}

// ExecutionContext 一次运行内所有智能体共享的上下文
type ExecutionContext struct {
	WorkspaceID string
	SessionID   string
	ExecutionID string
	CreatedAt   time.Time

	updatedAt atomic.Int64
	released  atomic.Bool

	shared   *namespace
	globals  *namespace
	metadata *namespace
	agents   sync.Map // agentID -> *namespace

	now    func() time.Time
	logger *zap.Logger
}

// New 创建执行上下文
func New(workspaceID string, opts Options, logger *zap.Logger) *ExecutionContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c := &ExecutionContext{
		WorkspaceID: workspaceID,
		SessionID:   opts.SessionID,
		ExecutionID: opts.ExecutionID,
		CreatedAt:   now(),
		shared:      newNamespace(now),
		globals:     newNamespace(now),
		metadata:    newNamespace(now),
		now:         now,
		logger: logger.With(
			zap.String("component", "execution_context"),
			zap.String("workspace_id", workspaceID),
		),
	}
	c.updatedAt.Store(c.CreatedAt.UnixNano())
	return c
}

// UpdatedAt 最近一次写入时间
func (c *ExecutionContext) UpdatedAt() time.Time {
	return time.Unix(0, c.updatedAt.Load()).UTC()
}

func (c *ExecutionContext) touch(t time.Time) {
	c.updatedAt.Store(t.UnixNano())
}

// Shared 共享数据
func (c *ExecutionContext) Shared() Scope { return Scope{ns: c.shared, owner: c, name: "shared"} }

// Globals 全局变量
func (c *ExecutionContext) Globals() Scope { return Scope{ns: c.globals, owner: c, name: "globals"} }

// Metadata 元数据
func (c *ExecutionContext) Metadata() Scope { return Scope{ns: c.metadata, owner: c, name: "metadata"} }

// Agent 返回智能体私有命名空间，首次访问时创建
func (c *ExecutionContext) Agent(agentID string) Scope {
	v, _ := c.agents.LoadOrStore(agentID, newNamespace(c.now))
	return Scope{ns: v.(*namespace), owner: c, name: "agent:" + agentID}
}

// Set 写入共享数据
func (c *ExecutionContext) Set(key string, value any) Entry { return c.Shared().Set(key, value) }

// Get 读取共享数据
func (c *ExecutionContext) Get(key string) (any, bool) { return c.Shared().Get(key) }

// Snapshot 导出所有命名空间的当前值
func (c *ExecutionContext) Snapshot() Snapshot {
	s := Snapshot{
		WorkspaceID: c.WorkspaceID,
		SessionID:   c.SessionID,
		ExecutionID: c.ExecutionID,
		SharedData:  c.shared.snapshot(),
		Globals:     c.globals.snapshot(),
		Metadata:    c.metadata.snapshot(),
		Agents:      make(map[string]map[string]any),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt(),
	}
	c.agents.Range(func(k, v any) bool {
		s.Agents[k.(string)] = v.(*namespace).snapshot()
		return true
	})
	return s
}

// Release 运行结束时释放所有数据。释放后写入被忽略。
func (c *ExecutionContext) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.shared.clear()
	c.globals.clear()
	c.metadata.clear()
	c.agents.Range(func(k, v any) bool {
		v.(*namespace).clear()
		c.agents.Delete(k)
		return true
	})
	c.logger.Debug("execution context released")
}

// Released 是否已释放
func (c *ExecutionContext) Released() bool { return c.released.Load() }

// Snapshot 执行上下文在某一时刻的只读视图
type Snapshot struct {
	WorkspaceID string                    `json:"workspace_id"`
	SessionID   string                    `json:"session_id,omitempty"`
	ExecutionID string                    `json:"execution_id,omitempty"`
	SharedData  map[string]any            `json:"shared_data"`
	Globals     map[string]any            `json:"global_variables"`
	Metadata    map[string]any            `json:"metadata"`
	Agents      map[string]map[string]any `json:"agent_contexts"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Scope 某个命名空间的访问句柄
type Scope struct {
	ns    *namespace
	owner *ExecutionContext
	name  string
}

// Name 命名空间名称
func (s Scope) Name() string { return s.name }

// Get 读取值，不加锁
func (s Scope) Get(key string) (any, bool) {
	e, ok := s.ns.get(key)
	return e.Value, ok
}

// Entry 读取带版本的条目
func (s Scope) Entry(key string) (Entry, bool) {
	return s.ns.get(key)
}

// Set 无条件写入，最后写入者胜出
func (s Scope) Set(key string, value any) Entry {
	if s.owner.Released() {
		s.owner.logger.Warn("write after release ignored",
			zap.String("scope", s.name), zap.String("key", key))
		return Entry{Key: key}
	}
	e := s.ns.set(key, value)
	s.owner.touch(e.UpdatedAt)
	return e
}

// CompareAndSet 乐观写入；版本不匹配时返回 ErrVersionConflict
func (s Scope) CompareAndSet(key string, expectedVersion uint64, value any) (Entry, error) {
	if s.owner.Released() {
		return Entry{}, fmt.Errorf("context: scope %s released", s.name)
	}
	e, err := s.ns.compareAndSet(key, expectedVersion, value)
	if err != nil {
		return e, err
	}
	s.owner.touch(e.UpdatedAt)
	return e, nil
}

// Update 以 CAS 循环应用 fn，直到写入成功
func (s Scope) Update(key string, fn func(current any, exists bool) any) (Entry, error) {
	for {
		cur, ok := s.ns.get(key)
		var expected uint64
		if ok {
			expected = cur.Version
		}
		e, err := s.CompareAndSet(key, expected, fn(cur.Value, ok))
		if err == nil {
			return e, nil
		}
		if s.owner.Released() {
			return Entry{}, err
		}
	}
}

// Delete 删除键，返回键此前是否存在
func (s Scope) Delete(key string) bool {
	if s.owner.Released() {
		return false
	}
	ok := s.ns.delete(key)
	if ok {
		s.owner.touch(s.owner.now())
	}
	return ok
}

// Keys 当前存在的键，按字典序
func (s Scope) Keys() []string { return s.ns.keys() }

// Snapshot 当前命名空间的值
func (s Scope) Snapshot() map[string]any { return s.ns.snapshot() }
