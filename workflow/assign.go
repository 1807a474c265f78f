package workflow

import (
	"fmt"
	"strings"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// assigner 在运行内选择执行任务的智能体
type assigner struct {
	agents []*agent.Agent // 声明顺序
	byID   map[string]*agent.Agent
	load   map[string]int // 运行内进行中的任务数
}

func newAssigner(agents []*agent.Agent) *assigner {
	a := &assigner{
		agents: agents,
		byID:   make(map[string]*agent.Agent, len(agents)),
		load:   make(map[string]int, len(agents)),
	}
	for _, ag := range agents {
		a.byID[ag.ID] = ag
	}
	return a
}

// pick 选择顺序：能力覆盖 → 偏好角色 → 进行中任务最少 → 声明顺序。
// 无人符合时改用 fallback 智能体。
func (a *assigner) pick(t *task) (*agent.Agent, error) {
	if t.forcedAgent != "" {
		if ag, ok := a.byID[t.forcedAgent]; ok {
			return ag, nil
		}
		return nil, noEligible(t, fmt.Sprintf("agent %s is not part of the workspace", t.forcedAgent))
	}

	eligible := make([]*agent.Agent, 0, len(a.agents))
	for _, ag := range a.agents {
		if ag.HasCapabilities(t.capabilities) {
			eligible = append(eligible, ag)
		}
	}
	if len(eligible) == 0 {
		if t.fallbackID != "" {
			if ag, ok := a.byID[t.fallbackID]; ok {
				t.fallbackUsed = true
				return ag, nil
			}
		}
		return nil, noEligible(t, fmt.Sprintf("no agent has capabilities %v", t.capabilities))
	}

	if t.role != "" {
		var preferred []*agent.Agent
		for _, ag := range eligible {
			if strings.EqualFold(ag.Role, t.role) {
				preferred = append(preferred, ag)
			}
		}
		if len(preferred) > 0 {
			eligible = preferred
		}
	}

	best := eligible[0]
	for _, ag := range eligible[1:] {
		if a.load[ag.ID] < a.load[best.ID] {
			best = ag
		}
	}
	return best, nil
}

func (a *assigner) acquire(agentID string) { a.load[agentID]++ }

func (a *assigner) release(agentID string) {
	if a.load[agentID] > 0 {
		a.load[agentID]--
	}
}

func (a *assigner) has(agentID string) bool {
	_, ok := a.byID[agentID]
	return ok
}

func noEligible(t *task, reason string) *types.Error {
	return types.NewError(types.ErrNoEligibleAgent, fmt.Sprintf("task %s: %s", t.id, reason)).WithTask(t.id)
}
