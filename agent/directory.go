package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// Directory 智能体与工作区查询
type Directory interface {
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	// WorkspaceAgents 按声明顺序返回工作区成员
	WorkspaceAgents(ctx context.Context, workspaceID string) ([]*Agent, error)
}

// MemoryDirectory 内存目录
type MemoryDirectory struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	workspaces map[string]*Workspace
	logger     *zap.Logger
}

// NewMemoryDirectory 创建内存目录
func NewMemoryDirectory(logger *zap.Logger) *MemoryDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryDirectory{
		agents:     make(map[string]*Agent),
		workspaces: make(map[string]*Workspace),
		logger:     logger.With(zap.String("component", "agent_directory")),
	}
}

// PutAgent 新增或替换智能体
func (d *MemoryDirectory) PutAgent(a *Agent) error {
	if a == nil {
		return types.NewValidationError("agent is nil")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a.Clone()
	if a.WorkspaceID != "" {
		ws, ok := d.workspaces[a.WorkspaceID]
		if !ok {
			ws = &Workspace{ID: a.WorkspaceID}
			d.workspaces[a.WorkspaceID] = ws
		}
		if !contains(ws.AgentIDs, a.ID) {
			ws.AgentIDs = append(ws.AgentIDs, a.ID)
		}
	}
	d.logger.Debug("agent registered", zap.String("agent_id", a.ID), zap.String("workspace_id", a.WorkspaceID))
	return nil
}

// PutWorkspace 新增或替换工作区，成员必须已注册
func (d *MemoryDirectory) PutWorkspace(ws *Workspace) error {
	if ws == nil || ws.ID == "" {
		return types.NewValidationError("workspace id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ws.AgentIDs {
		if _, ok := d.agents[id]; !ok {
			return types.NewValidationError(fmt.Sprintf("workspace %s references unknown agent %s", ws.ID, id))
		}
	}
	cp := *ws
	cp.AgentIDs = append([]string(nil), ws.AgentIDs...)
	d.workspaces[ws.ID] = &cp
	return nil
}

// GetAgent 按 ID 查询，返回副本
func (d *MemoryDirectory) GetAgent(_ context.Context, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("agent %s not found", agentID))
	}
	return a.Clone(), nil
}

// WorkspaceAgents 按声明顺序返回工作区成员
func (d *MemoryDirectory) WorkspaceAgents(_ context.Context, workspaceID string) ([]*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ws, ok := d.workspaces[workspaceID]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("workspace %s not found", workspaceID))
	}
	out := make([]*Agent, 0, len(ws.AgentIDs))
	for _, id := range ws.AgentIDs {
		if a, ok := d.agents[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// Workspaces 所有工作区
func (d *MemoryDirectory) Workspaces() []Workspace {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Workspace, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		out = append(out, *ws)
	}
	return out
}

// Replace 原子地以另一个目录的内容替换当前内容
func (d *MemoryDirectory) Replace(other *MemoryDirectory) {
	if other == nil || other == d {
		return
	}
	other.mu.RLock()
	agents := make(map[string]*Agent, len(other.agents))
	for id, a := range other.agents {
		agents[id] = a.Clone()
	}
	workspaces := make(map[string]*Workspace, len(other.workspaces))
	for id, ws := range other.workspaces {
		cp := *ws
		cp.AgentIDs = append([]string(nil), ws.AgentIDs...)
		workspaces[id] = &cp
	}
	other.mu.RUnlock()

	d.mu.Lock()
	d.agents = agents
	d.workspaces = workspaces
	d.mu.Unlock()
	d.logger.Info("directory replaced", zap.Int("agents", len(agents)), zap.Int("workspaces", len(workspaces)))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
