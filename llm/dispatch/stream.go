package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/retry"
	"github.com/serkansepil/agent-planner-sub001/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ExecuteStream 执行流式请求。准入失败同步返回错误；之后的失败以带 Err 的事件结束流。
// 缓存命中时回放为一个内容事件加一个结束事件。
func (d *Dispatcher) ExecuteStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	start := d.now()
	key := req.CacheKey()

	ctx, span := d.tracer.Start(ctx, "dispatch.stream", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("llm.model", req.Model),
		attribute.String("execution.id", req.ExecutionID),
	))

	if req.EnableCache && d.cache != nil && !req.BypassCache {
		entry, err := d.cache.Get(ctx, key)
		if d.observer != nil {
			d.observer.RecordCacheLookup(err == nil)
		}
		if err == nil {
			defer span.End()
			res := resultFromEntry(entry)
			res.Cached = true
			res.ExecutionID = req.ExecutionID
			res.CacheKey = key
			res.LatencyMs = d.now().Sub(start).Milliseconds()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			d.finishSucceeded(ctx, req, res, d.now().Sub(start))

			out := make(chan StreamEvent, 2)
			out <- StreamEvent{Content: res.Content}
			out <- StreamEvent{Done: true, Result: res}
			close(out)
			return out, nil
		}
	}

	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	fail := func(retries int, err error) (<-chan StreamEvent, error) {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		d.finishFailed(ctx, req, key, retries, d.now().Sub(start), err)
		return nil, err
	}

	estimated := d.estimateInput(req)
	if err := d.admit(ctx, req, estimated); err != nil {
		return fail(0, err)
	}
	provider, err := d.resolve(req)
	if err != nil {
		return fail(0, err)
	}

	var reservation *budget.Reservation
	upstream, retries, err := retry.Do(ctx, d.backoffFor(req), func(ctx context.Context, attempt int) (<-chan llm.StreamChunk, error) {
		r, err := d.reserve(req, estimated)
		if err != nil {
			return nil, err
		}
		ch, err := provider.ExecuteStream(ctx, req.Messages, req.options())
		if err != nil {
			r.Release()
			return nil, err
		}
		reservation = r
		return ch, nil
	})
	if err != nil {
		return fail(retries, err)
	}

	out := make(chan StreamEvent)
	s := &streamRun{
		d:           d,
		req:         req,
		key:         key,
		provider:    provider.Name(),
		start:       start,
		retries:     retries,
		reservation: reservation,
		span:        span,
		cancel:      cancel,
		out:         out,
	}
	go s.forward(ctx, upstream)
	return out, nil
}

type streamRun struct {
	d           *Dispatcher
	req         *Request
	key         string
	provider    string
	start       time.Time
	retries     int
	reservation *budget.Reservation
	span        trace.Span
	cancel      context.CancelFunc
	out         chan StreamEvent
}

func (s *streamRun) send(ctx context.Context, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case s.out <- ev:
		return true
	}
}

func (s *streamRun) forward(ctx context.Context, upstream <-chan llm.StreamChunk) {
	defer close(s.out)
	defer s.span.End()
	defer s.cancel()

	var (
		content strings.Builder
		finish  string
		usage   llm.Usage
	)
	for {
		select {
		case <-ctx.Done():
			s.abort(ctx, ctx.Err())
			return
		case chunk, ok := <-upstream:
			if !ok {
				s.abort(ctx, types.NewProviderError(s.provider, "stream closed before completion", true))
				return
			}
			if chunk.Err != nil {
				s.abort(ctx, chunk.Err)
				return
			}
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
				if !s.send(ctx, StreamEvent{Content: chunk.Content}) {
					s.abort(ctx, ctx.Err())
					return
				}
			}
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Done {
				s.complete(ctx, content.String(), finish, usage)
				return
			}
		}
	}
}

func (s *streamRun) complete(ctx context.Context, content, finish string, usage llm.Usage) {
	s.reservation.Release()
	d := s.d
	latency := d.now().Sub(s.start)

	res := d.price(s.req, s.provider, content, finish, usage)
	res.ExecutionID = s.req.ExecutionID
	res.CacheKey = s.key
	res.RetryCount = s.retries
	res.LatencyMs = latency.Milliseconds()

	if s.req.EnableCache && d.cache != nil {
		if err := d.cache.Set(context.WithoutCancel(ctx), s.key, entryFromResult(res), s.req.CacheTTL); err != nil {
			d.logger.Warn("stream cache populate failed", zap.String("execution_id", res.ExecutionID), zap.Error(err))
		}
	}
	s.span.SetAttributes(
		attribute.Int("llm.tokens.total", res.TotalTokens),
		attribute.Float64("llm.cost", res.Cost.TotalCost),
	)
	d.finishSucceeded(ctx, s.req, res, latency)
	s.send(ctx, StreamEvent{Done: true, Result: res})
}

// abort 结束一个未完成的流。调用方取消时退还窗口配额。
func (s *streamRun) abort(ctx context.Context, err error) {
	if ctx.Err() != nil {
		s.reservation.Cancel()
	} else {
		s.reservation.Release()
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.d.finishFailed(ctx, s.req, s.key, s.retries, s.d.now().Sub(s.start), err)
	s.send(ctx, StreamEvent{Done: true, Err: err})
}
