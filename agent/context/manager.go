package context

import (
	"sync"

	"go.uber.org/zap"
)

// Manager 按运行 ID 管理执行上下文
type Manager struct {
	contexts sync.Map // runID -> *ExecutionContext
	logger   *zap.Logger
}

// NewManager 创建上下文管理器
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Create 为运行创建上下文；已存在时返回现有实例
func (m *Manager) Create(runID, workspaceID string, opts Options) *ExecutionContext {
	if opts.ExecutionID == "" {
		opts.ExecutionID = runID
	}
	c := New(workspaceID, opts, m.logger)
	actual, loaded := m.contexts.LoadOrStore(runID, c)
	if loaded {
		return actual.(*ExecutionContext)
	}
	m.logger.Debug("execution context created",
		zap.String("run_id", runID), zap.String("workspace_id", workspaceID))
	return c
}

// Get 获取运行的上下文
func (m *Manager) Get(runID string) (*ExecutionContext, bool) {
	v, ok := m.contexts.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*ExecutionContext), true
}

// Release 释放并移除运行的上下文
func (m *Manager) Release(runID string) {
	v, ok := m.contexts.LoadAndDelete(runID)
	if !ok {
		return
	}
	v.(*ExecutionContext).Release()
}

// Len 活跃上下文数量
func (m *Manager) Len() int {
	n := 0
	m.contexts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
