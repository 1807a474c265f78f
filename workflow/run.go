package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/agent/collaboration"
	agentcontext "github.com/serkansepil/agent-planner-sub001/agent/context"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunSummary 运行概况
type RunSummary struct {
	ID          string             `json:"run_id"`
	WorkspaceID string             `json:"workspace_id"`
	SessionID   string             `json:"session_id,omitempty"`
	Status      RunStatus          `json:"status"`
	Mode        Mode               `json:"mode"`
	MaxParallel int                `json:"max_parallel"`
	Counts      map[TaskStatus]int `json:"counts"`
	TotalCost   float64            `json:"total_cost"`
	CreatedAt   time.Time          `json:"created_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Tasks       []TaskResult       `json:"tasks"`
}

// Run 一次任务图运行
type Run struct {
	ID          string
	WorkspaceID string
	SessionID   string
	Mode        Mode
	MaxParallel int
	CreatedAt   time.Time

	mu         sync.RWMutex
	status     RunStatus
	finishedAt time.Time
	tasks      []*task
	index      map[string]*task
	assigner   *assigner
	final      *agentcontext.Snapshot

	store     *agentcontext.ExecutionContext
	bus       *collaboration.Bus
	events    *eventHub
	results   chan attemptResult
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled bool

	o      *Orchestrator
	logger *zap.Logger
}

// Status 当前状态
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Results 按提交顺序返回所有任务结果
func (r *Run) Results() []TaskResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TaskResult, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = cloneResult(t.result)
	}
	return out
}

// Result 单个任务结果
func (r *Run) Result(taskID string) (TaskResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.index[taskID]
	if !ok {
		return TaskResult{}, false
	}
	return cloneResult(t.result), true
}

// Summary 运行概况
func (r *Run) Summary() RunSummary {
	results := r.Results()
	r.mu.RLock()
	s := RunSummary{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		SessionID:   r.SessionID,
		Status:      r.status,
		Mode:        r.Mode,
		MaxParallel: r.MaxParallel,
		Counts:      make(map[TaskStatus]int),
		CreatedAt:   r.CreatedAt,
		Tasks:       results,
	}
	if !r.finishedAt.IsZero() {
		f := r.finishedAt
		s.FinishedAt = &f
	}
	r.mu.RUnlock()
	for _, t := range results {
		s.Counts[t.Status]++
		s.TotalCost += t.Cost
	}
	return s
}

// Context 执行上下文快照；运行结束后返回释放前的最终快照
func (r *Run) Context() agentcontext.Snapshot {
	r.mu.RLock()
	final := r.final
	r.mu.RUnlock()
	if final != nil {
		return *final
	}
	return r.store.Snapshot()
}

// Events 迄今为止的全部事件
func (r *Run) Events() []TaskEvent { return r.events.events() }

// Subscribe 订阅任务事件：先回放历史事件，运行结束后通道关闭
func (r *Run) Subscribe() (<-chan TaskEvent, func()) { return r.events.subscribe() }

// Done 运行结束时关闭
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait 等待运行结束
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel 取消运行：停止派发，进行中的任务被取消，已写入上下文的数据保留
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.status == RunRunning {
		r.cancelled = true
	}
	r.mu.Unlock()
	r.cancel()
}

// --- 调度循环 ---

type attemptResult struct {
	task     *task
	result   *dispatch.Result
	output   string
	err      error
	timedOut bool
	started  time.Time
}

// job 工作协程所需的不可变数据
type job struct {
	task     *task
	agent    *agent.Agent
	attempt  int
	taskType TaskType
	timeout  time.Duration
	targetID string
	priority types.Priority
	depIDs   []string
	depNames []string
	taskID   string
	taskName string
	taskDesc string
}

func (r *Run) loop(ctx context.Context) {
	ctx, span := r.o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.run_id", r.ID),
		attribute.String("workflow.workspace_id", r.WorkspaceID),
		attribute.String("workflow.mode", string(r.Mode)),
		attribute.Int("workflow.tasks", len(r.tasks)),
	))
	defer span.End()
	defer r.finish()

	ready := &readyQueue{}
	r.mu.Lock()
	for _, t := range r.tasks {
		if t.remaining == 0 {
			r.transition(t, TaskQueued, "")
			ready.push(t)
		}
	}
	r.mu.Unlock()

	inflight := 0
	cancelled := ctx.Done()
	stopping := false
	for {
		for !stopping && ctx.Err() == nil && inflight < r.MaxParallel && ready.Len() > 0 {
			t := ready.pop()
			if j, ok := r.dispatch(t); ok {
				inflight++
				go r.work(ctx, j)
			}
		}
		if inflight == 0 && (stopping || ready.Len() == 0) {
			return
		}

		select {
		case res := <-r.results:
			inflight--
			r.mu.Lock()
			requeue := r.handle(ctx, res)
			r.mu.Unlock()
			for _, t := range requeue {
				ready.push(t)
			}
		case <-cancelled:
			cancelled = nil
			stopping = true
			*ready = (*ready)[:0]
			r.mu.Lock()
			for _, t := range r.tasks {
				if t.status == TaskPending || t.status == TaskQueued {
					r.terminate(t, TaskCancelled, types.NewError(types.ErrTaskCancelled, "run cancelled").WithTask(t.id))
				}
			}
			r.mu.Unlock()
			r.logger.Info("run cancelled", zap.Int("in_flight", inflight))
		}
	}
}

// dispatch 为就绪任务分配智能体；分配失败时任务直接失败并级联
func (r *Run) dispatch(t *task) (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ag, err := r.assigner.pick(t)
	if err != nil {
		r.fail(t, err)
		return job{}, false
	}
	r.assigner.acquire(ag.ID)
	t.agentID = ag.ID
	t.result.AgentID = ag.ID
	t.result.Attempts++
	t.result.Assignments = append(t.result.Assignments, TaskAssignment{
		TaskID:            t.id,
		AgentID:           ag.ID,
		AssignedAt:        r.o.now(),
		Priority:          t.priority,
		EstimatedDuration: t.timeout,
	})
	r.transition(t, TaskAssigned, "")
	r.transition(t, TaskInProgress, "")
	if t.result.StartedAt == nil {
		now := r.o.now()
		t.result.StartedAt = &now
	}

	j := job{
		task:     t,
		agent:    ag,
		attempt:  t.result.Attempts,
		taskType: t.taskType,
		timeout:  t.timeout,
		targetID: t.targetID,
		priority: t.priority,
		depIDs:   t.dependencies,
		taskID:   t.id,
		taskName: t.name,
		taskDesc: t.description,
	}
	for _, id := range t.dependencies {
		j.depNames = append(j.depNames, r.index[id].name)
	}
	return j, true
}

// handle 处理一次尝试的结果，返回需要重新入队的任务
func (r *Run) handle(ctx context.Context, res attemptResult) []*task {
	t := res.task
	r.assigner.release(t.agentID)

	switch {
	case res.err == nil:
		r.complete(t, res)
		var ready []*task
		for _, d := range t.dependents {
			d.remaining--
			if d.remaining == 0 && d.status == TaskPending {
				r.transition(d, TaskQueued, "")
				ready = append(ready, d)
			}
		}
		return ready

	case ctx.Err() != nil:
		r.terminate(t, TaskCancelled, types.NewError(types.ErrTaskCancelled, "run cancelled").WithTask(t.id).WithCause(res.err))
		r.cascade(t)
		return nil

	case res.timedOut:
		if t.retryCount < t.maxRetries {
			t.retryCount++
			t.result.RetryCount = t.retryCount
			r.logger.Warn("task timed out, retrying",
				zap.String("task_id", t.id),
				zap.String("agent_id", t.agentID),
				zap.Int("retry_count", t.retryCount),
				zap.Int("max_retries", t.maxRetries),
			)
			r.transition(t, TaskQueued, types.ErrTaskTimeout)
			return []*task{t}
		}
		r.fail(t, types.NewError(types.ErrTaskTimeout,
			fmt.Sprintf("task %s timed out after %s (%d retries)", t.id, t.timeout, t.retryCount)).
			WithTask(t.id).WithRetryable(true).WithCause(res.err))
		return nil

	default:
		if t.fallbackID != "" && !t.fallbackUsed && t.fallbackID != t.agentID && r.assigner.has(t.fallbackID) {
			t.fallbackUsed = true
			t.forcedAgent = t.fallbackID
			r.logger.Warn("task failed, rerouting to fallback agent",
				zap.String("task_id", t.id),
				zap.String("agent_id", t.agentID),
				zap.String("fallback_agent_id", t.fallbackID),
				zap.Error(res.err),
			)
			r.transition(t, TaskQueued, types.GetErrorCode(res.err))
			return []*task{t}
		}
		r.fail(t, res.err)
		return nil
	}
}

func (r *Run) complete(t *task, res attemptResult) {
	t.result.Output = res.output
	t.result.ErrorCode = ""
	t.result.ErrorMessage = ""
	if res.result != nil {
		t.result.ExecutionID = res.result.ExecutionID
		t.result.InputTokens = res.result.InputTokens
		t.result.OutputTokens = res.result.OutputTokens
		t.result.Cost = res.result.Cost.TotalCost
		t.result.Cached = res.result.Cached
	}
	r.transition(t, TaskCompleted, "")
	r.logger.Info("task completed",
		zap.String("task_id", t.id),
		zap.String("agent_id", t.agentID),
		zap.Int("attempts", t.result.Attempts),
		zap.Duration("duration", time.Since(res.started)),
	)
}

// fail 标记失败并级联取消依赖者
func (r *Run) fail(t *task, err error) {
	r.terminate(t, TaskFailed, err)
	r.logger.Warn("task failed",
		zap.String("task_id", t.id),
		zap.String("agent_id", t.agentID),
		zap.String("error_code", string(t.result.ErrorCode)),
		zap.Error(err),
	)
	r.cascade(t)
}

// cascade 所有传递依赖者以 DEPENDENCY_FAILED 取消
func (r *Run) cascade(root *task) {
	queue := append([]*task(nil), root.dependents...)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if d.status.IsTerminal() {
			continue
		}
		r.terminate(d, TaskCancelled, types.NewError(types.ErrDependencyFailed,
			fmt.Sprintf("dependency %s ended %s", root.id, root.status)).WithTask(d.id))
		queue = append(queue, d.dependents...)
	}
}

func (r *Run) terminate(t *task, status TaskStatus, err error) {
	code := types.GetErrorCode(err)
	if code == "" && err != nil {
		code = types.ErrInternal
	}
	t.result.ErrorCode = code
	if err != nil {
		t.result.ErrorMessage = err.Error()
		t.result.Retryable = types.IsRetryable(err)
	}
	r.transition(t, status, code)
}

// transition 调用方必须持有 r.mu
func (r *Run) transition(t *task, to TaskStatus, code types.ErrorCode) {
	from := t.status
	t.status = to
	t.result.Status = to
	now := r.o.now()
	if to.IsTerminal() {
		t.result.CompletedAt = &now
	}
	r.events.publish(TaskEvent{
		RunID:      r.ID,
		TaskID:     t.id,
		From:       from,
		To:         to,
		AgentID:    t.agentID,
		RetryCount: t.retryCount,
		Attempt:    t.result.Attempts,
		ErrorCode:  code,
		Timestamp:  now,
	})
	if r.o.observer != nil {
		r.o.observer.RecordTaskTransition(string(from), string(to))
	}
}

func (r *Run) finish() {
	r.mu.Lock()
	for _, t := range r.tasks {
		if !t.status.IsTerminal() {
			r.terminate(t, TaskCancelled, types.NewError(types.ErrTaskCancelled, "run ended").WithTask(t.id))
		}
	}
	status := RunCompleted
	for _, t := range r.tasks {
		if t.status != TaskCompleted {
			status = RunFailed
			break
		}
	}
	if r.cancelled {
		status = RunCancelled
	}
	r.status = status
	r.finishedAt = r.o.now()
	snap := r.store.Snapshot()
	r.final = &snap
	r.mu.Unlock()

	r.cancel()
	_ = r.bus.Close()
	r.o.contexts.Release(r.ID)
	r.events.close()
	close(r.done)

	duration := r.finishedAt.Sub(r.CreatedAt)
	if r.o.observer != nil {
		r.o.observer.RecordRun(string(status), duration)
	}
	r.logger.Info("run finished", zap.String("status", string(status)), zap.Duration("duration", duration))
	r.o.forget(r)
}

func cloneResult(tr TaskResult) TaskResult {
	tr.Assignments = append([]TaskAssignment(nil), tr.Assignments...)
	return tr
}
