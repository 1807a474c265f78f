package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/agent/collaboration"
	agentcontext "github.com/serkansepil/agent-planner-sub001/agent/context"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// work 执行一次尝试并把结果交回调度循环
func (r *Run) work(ctx context.Context, j job) {
	started := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	attemptCtx, span := r.o.tracer.Start(attemptCtx, "workflow.task", trace.WithAttributes(
		attribute.String("workflow.task_id", j.taskID),
		attribute.String("workflow.task_type", string(j.taskType)),
		attribute.String("workflow.agent_id", j.agent.ID),
		attribute.Int("workflow.attempt", j.attempt),
	))
	res, output, err := r.execute(attemptCtx, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err == nil {
		r.store.Set(agentcontext.TaskOutputKey(j.taskID), output)
		if r.o.cfg.BroadcastResults {
			r.broadcastResult(ctx, j, output)
		}
	}
	r.results <- attemptResult{
		task:     j.task,
		result:   res,
		output:   output,
		err:      err,
		timedOut: err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
		started:  started,
	}
}

func (r *Run) execute(ctx context.Context, j job) (*dispatch.Result, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	prompt, deps := r.buildPrompt(j)

	switch j.taskType {
	case TaskTypeRequest:
		text := prompt
		if deps != "" {
			text = deps + "\n\n" + prompt
		}
		resp, err := r.bus.Request(ctx, &collaboration.Message{
			FromID:   j.agent.ID,
			ToID:     j.targetID,
			Content:  collaboration.TextPayload(text),
			Priority: j.priority,
		})
		if err != nil {
			return nil, "", err
		}
		out, err := resp.Content.Text()
		if err != nil {
			return nil, "", types.NewError(types.ErrInternal, "invalid response payload").WithTask(j.taskID).WithCause(err)
		}
		if resp.Content.Kind == collaboration.PayloadError {
			return nil, "", types.NewError(types.ErrProvider, fmt.Sprintf("agent %s: %s", j.targetID, out)).WithTask(j.taskID)
		}
		return nil, out, nil

	case TaskTypePrompt:
		res, err := r.o.executor.ExecuteAgent(ctx, j.agent, agent.ExecuteInput{
			Prompt:      prompt,
			Context:     deps,
			SessionID:   r.SessionID,
			WorkspaceID: r.WorkspaceID,
			RunID:       r.ID,
			TaskID:      j.taskID,
		})
		if err != nil {
			return nil, "", err
		}
		return res, res.Content, nil

	default:
		return nil, "", types.NewValidationError(fmt.Sprintf("unknown task type %q", j.taskType))
	}
}

// buildPrompt 从上下文读取任务输入与依赖输出
func (r *Run) buildPrompt(j job) (prompt, deps string) {
	var instruction, extra string
	if v, ok := r.store.Get(agentcontext.TaskInputKey(j.taskID)); ok {
		switch in := v.(type) {
		case string:
			instruction = in
		case map[string]any:
			rest := make(map[string]any, len(in))
			for k, val := range in {
				if p, ok := val.(string); ok && k == "prompt" {
					instruction = p
					continue
				}
				rest[k] = val
			}
			if len(rest) > 0 {
				extra = marshalInput(rest)
			}
		default:
			extra = marshalInput(in)
		}
	}
	if instruction == "" {
		instruction = j.taskDesc
	}
	if instruction == "" {
		instruction = j.taskName
	}
	if extra != "" {
		instruction += "\n\nInput:\n" + extra
	}

	var sb strings.Builder
	for i, id := range j.depIDs {
		out, ok := r.store.Get(agentcontext.TaskOutputKey(id))
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Output of %s:\n%v", j.depNames[i], out)
	}
	return instruction, sb.String()
}

func marshalInput(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// startResponders 为每个工作区智能体订阅邮箱，代其回答 request 消息
func (r *Run) startResponders(ctx context.Context, agents []*agent.Agent) error {
	for _, a := range agents {
		mb, err := r.bus.Subscribe(a.ID)
		if err != nil {
			return err
		}
		ag := a
		go func() {
			if err := r.bus.Serve(ctx, mb, r.respond(ag)); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Debug("responder stopped", zap.String("agent_id", ag.ID), zap.Error(err))
			}
		}()
	}
	return nil
}

func (r *Run) respond(a *agent.Agent) collaboration.Handler {
	return func(ctx context.Context, msg *collaboration.Message) (collaboration.Payload, error) {
		switch msg.Type {
		case collaboration.MessageTypeRequest:
			text, err := msg.Content.Text()
			if err != nil {
				return collaboration.Payload{}, err
			}
			res, err := r.o.executor.ExecuteAgent(ctx, a, agent.ExecuteInput{
				Prompt:      text,
				SessionID:   r.SessionID,
				WorkspaceID: r.WorkspaceID,
				RunID:       r.ID,
			})
			if err != nil {
				return collaboration.Payload{}, err
			}
			return collaboration.TextPayload(res.Content), nil
		case collaboration.MessageTypeResponse, collaboration.MessageTypeNotification, collaboration.MessageTypeBroadcast:
			r.logger.Debug("message observed",
				zap.String("agent_id", a.ID),
				zap.String("from", msg.FromID),
				zap.String("type", string(msg.Type)),
			)
			return collaboration.Payload{}, nil
		default:
			return collaboration.Payload{}, fmt.Errorf("unhandled message type %q", msg.Type)
		}
	}
}

// broadcastResult 由执行者向其他智能体广播任务输出
func (r *Run) broadcastResult(ctx context.Context, j job, output string) {
	payload, err := collaboration.JSONPayload(collaboration.PayloadTaskResult, map[string]string{
		"task_id":  j.taskID,
		"name":     j.taskName,
		"agent_id": j.agent.ID,
		"output":   output,
	})
	if err != nil {
		r.logger.Warn("failed to encode task result", zap.String("task_id", j.taskID), zap.Error(err))
		return
	}
	err = r.bus.Send(ctx, &collaboration.Message{
		FromID:   j.agent.ID,
		Type:     collaboration.MessageTypeBroadcast,
		Content:  payload,
		Priority: j.priority,
	})
	if err != nil {
		r.logger.Debug("failed to broadcast task result", zap.String("task_id", j.taskID), zap.Error(err))
	}
}
