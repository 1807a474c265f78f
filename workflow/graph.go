package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// graphDefaults 提交时补齐的默认值
type graphDefaults struct {
	timeout    time.Duration
	maxRetries int
}

// buildGraph 将任务描述转换为任务数组与邻接表，并校验整张图。
// 任何错误都在调度开始之前返回。
func buildGraph(specs []TaskSpec, defaults graphDefaults) ([]*task, error) {
	if len(specs) == 0 {
		return nil, types.NewValidationError("task graph is empty")
	}

	tasks := make([]*task, 0, len(specs))
	index := make(map[string]*task, len(specs))
	for i, s := range specs {
		t, err := newTask(i, s, defaults)
		if err != nil {
			return nil, err
		}
		if _, dup := index[t.id]; dup {
			return nil, types.NewValidationError(fmt.Sprintf("duplicate task id %q", t.id))
		}
		index[t.id] = t
		tasks = append(tasks, t)
	}

	for _, t := range tasks {
		seen := make(map[string]struct{}, len(t.dependencies))
		deps := t.dependencies[:0]
		for _, depID := range t.dependencies {
			if depID == t.id {
				return nil, types.NewValidationError(fmt.Sprintf("task %q depends on itself", t.id))
			}
			dep, ok := index[depID]
			if !ok {
				return nil, types.NewValidationError(fmt.Sprintf("task %q depends on unknown task %q", t.id, depID))
			}
			if _, dup := seen[depID]; dup {
				continue
			}
			seen[depID] = struct{}{}
			deps = append(deps, depID)
			dep.dependents = append(dep.dependents, t)
		}
		t.dependencies = deps
		t.remaining = len(deps)
	}

	if cycle := detectCycle(tasks); len(cycle) > 0 {
		return nil, types.NewValidationError(fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, ", ")))
	}
	return tasks, nil
}

func newTask(seq int, s TaskSpec, defaults graphDefaults) (*task, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = strings.TrimSpace(s.Name)
	}
	if id == "" {
		return nil, types.NewValidationError(fmt.Sprintf("task #%d: id or name is required", seq))
	}
	priority, err := types.ParsePriority(s.Priority)
	if err != nil {
		return nil, types.NewValidationError(fmt.Sprintf("task %q: %v", id, err))
	}
	taskType := s.Type
	switch taskType {
	case "":
		taskType = TaskTypePrompt
	case TaskTypePrompt:
	case TaskTypeRequest:
		if s.TargetAgentID == "" {
			return nil, types.NewValidationError(fmt.Sprintf("task %q: request task requires target_agent_id", id))
		}
	default:
		return nil, types.NewValidationError(fmt.Sprintf("task %q: unknown task type %q", id, s.Type))
	}
	timeout := time.Duration(s.Timeout)
	if timeout < 0 {
		return nil, types.NewValidationError(fmt.Sprintf("task %q: timeout must not be negative", id))
	}
	if timeout == 0 {
		timeout = defaults.timeout
	}
	maxRetries := defaults.maxRetries
	if s.MaxRetries != nil {
		if *s.MaxRetries < 0 {
			return nil, types.NewValidationError(fmt.Sprintf("task %q: max_retries must not be negative", id))
		}
		maxRetries = *s.MaxRetries
	}
	name := s.Name
	if name == "" {
		name = id
	}

	t := &task{
		seq:          seq,
		id:           id,
		name:         name,
		description:  s.Description,
		taskType:     taskType,
		capabilities: append([]string(nil), s.RequiredCapabilities...),
		role:         s.PreferredRole,
		priority:     priority,
		input:        s.Input,
		dependencies: append([]string(nil), s.Dependencies...),
		timeout:      timeout,
		maxRetries:   maxRetries,
		fallbackID:   s.FallbackAgentID,
		targetID:     s.TargetAgentID,
		status:       TaskPending,
	}
	t.result = TaskResult{TaskID: id, Name: name, Type: taskType, Status: TaskPending, Priority: priority}
	return t, nil
}

// detectCycle 以 Kahn 算法做拓扑排序；返回无法排序的任务 ID（按 ID 排序），无环时为空
func detectCycle(tasks []*task) []string {
	indegree := make(map[*task]int, len(tasks))
	queue := make([]*task, 0, len(tasks))
	for _, t := range tasks {
		indegree[t] = t.remaining
		if t.remaining == 0 {
			queue = append(queue, t)
		}
	}
	visited := 0
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range t.dependents {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if visited == len(tasks) {
		return nil
	}
	var stuck []string
	for t, n := range indegree {
		if n > 0 {
			stuck = append(stuck, t.id)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// TopologicalOrder 校验任务图并返回一个拓扑序，就绪任务按提交顺序出队
func TopologicalOrder(specs []TaskSpec) ([]string, error) {
	tasks, err := buildGraph(specs, graphDefaults{})
	if err != nil {
		return nil, err
	}
	remaining := make(map[*task]int, len(tasks))
	var ready []*task
	for _, t := range tasks {
		remaining[t] = t.remaining
		if t.remaining == 0 {
			ready = append(ready, t)
		}
	}
	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
		t := ready[0]
		ready = ready[1:]
		order = append(order, t.id)
		for _, d := range t.dependents {
			remaining[d]--
			if remaining[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order, nil
}
