package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/types"
)

var (
	// ErrBusClosed 总线已关闭
	ErrBusClosed = errors.New("message bus is closed")
	// ErrMailboxClosed 邮箱已取消订阅
	ErrMailboxClosed = errors.New("mailbox is closed")
	// ErrAlreadySubscribed 同一智能体重复订阅
	ErrAlreadySubscribed = errors.New("agent already subscribed")
)

const defaultMailboxSize = 100

// Publisher 镜像发布端，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusOption 总线选项
type BusOption func(*Bus)

// WithMailboxSize 设置邮箱缓冲大小
func WithMailboxSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// WithMirror 将每条消息以 JSON 镜像发布到 <prefix>.<type>.<to|all>
func WithMirror(p Publisher, prefix string) BusOption {
	return func(b *Bus) {
		b.mirror = p
		if prefix != "" {
			b.subjectPrefix = prefix
		}
	}
}

// Bus 一次运行内的消息总线
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
	pending   map[string]chan *Message
	// running 正在处理的请求，按 correlationId 取消
	running   map[string]context.CancelFunc
	abandoned map[string]struct{}
	closed    bool
	closeOnce sync.Once

	mailboxSize   int
	mirror        Publisher
	subjectPrefix string
	now           func() time.Time
	logger        *zap.Logger
}

// NewBus 创建消息总线
func NewBus(logger *zap.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		mailboxes:     make(map[string]*Mailbox),
		pending:       make(map[string]chan *Message),
		running:       make(map[string]context.CancelFunc),
		abandoned:     make(map[string]struct{}),
		mailboxSize:   defaultMailboxSize,
		subjectPrefix: "planner.bus",
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(zap.String("component", "message_bus")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mailbox 智能体的收件箱
type Mailbox struct {
	agentID string
	ch      chan *Message
	done    chan struct{}
	once    sync.Once
	bus     *Bus
}

// AgentID 所属智能体
func (m *Mailbox) AgentID() string { return m.agentID }

// C 消息通道。邮箱关闭后不再有新消息，但通道本身不会被关闭，需配合 Done 使用。
func (m *Mailbox) C() <-chan *Message { return m.ch }

// Done 邮箱关闭时关闭
func (m *Mailbox) Done() <-chan struct{} { return m.done }

// Receive 阻塞接收下一条消息
func (m *Mailbox) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-m.done:
		return nil, ErrMailboxClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 取消订阅
func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.bus.mu.Lock()
		if m.bus.mailboxes[m.agentID] == m {
			delete(m.bus.mailboxes, m.agentID)
		}
		m.bus.mu.Unlock()
		close(m.done)
	})
}

// deliver 投递到邮箱；邮箱满时阻塞直到有空间、邮箱关闭或 ctx 结束
func (m *Mailbox) deliver(ctx context.Context, msg *Message) error {
	select {
	case m.ch <- msg:
		return nil
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	case <-m.done:
		return ErrMailboxClosed
	case <-ctx.Done():
		return fmt.Errorf("deliver to %s: %w", m.agentID, ctx.Err())
	}
}

// Subscribe 为智能体创建邮箱。只有订阅之后发送的广播才会送达。
func (b *Bus) Subscribe(agentID string) (*Mailbox, error) {
	if agentID == "" {
		return nil, types.NewValidationError("agent id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.mailboxes[agentID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, agentID)
	}
	m := &Mailbox{
		agentID: agentID,
		ch:      make(chan *Message, b.mailboxSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.mailboxes[agentID] = m
	b.logger.Debug("agent subscribed", zap.String("agent_id", agentID))
	return m, nil
}

// Subscribers 当前订阅的智能体
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.mailboxes))
	for id := range b.mailboxes {
		out = append(out, id)
	}
	return out
}

// Send 发送消息。点对点投递给 ToID；ToID 为空时投递给发送时刻已订阅的所有其他智能体。
// 响应消息优先交给等待同一 correlationId 的 Request 调用方。
func (b *Bus) Send(ctx context.Context, msg *Message) error {
	if msg == nil {
		return types.NewValidationError("message is nil")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	if msg.Priority == "" {
		msg.Priority = types.PriorityMedium
	}
	if msg.Type == MessageTypeRequest && msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}
	if err := msg.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	var (
		waiter     chan *Message
		recipients []*Mailbox
	)
	if msg.Type == MessageTypeResponse {
		if ch, ok := b.pending[msg.CorrelationID]; ok {
			waiter = ch
			delete(b.pending, msg.CorrelationID)
		}
	}
	if waiter == nil {
		recipients = b.recipientsLocked(msg)
	}
	b.mu.Unlock()

	b.publishMirror(msg)

	if waiter != nil {
		waiter <- msg
		return nil
	}
	if !msg.IsBroadcast() && len(recipients) == 0 {
		return types.NewNotFoundError(fmt.Sprintf("agent %s is not subscribed", msg.ToID))
	}

	var errs []error
	for _, m := range recipients {
		if err := m.deliver(ctx, msg); err != nil {
			if errors.Is(err, ErrMailboxClosed) && msg.IsBroadcast() {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) recipientsLocked(msg *Message) []*Mailbox {
	if !msg.IsBroadcast() {
		if m, ok := b.mailboxes[msg.ToID]; ok {
			return []*Mailbox{m}
		}
		return nil
	}
	out := make([]*Mailbox, 0, len(b.mailboxes))
	for id, m := range b.mailboxes {
		if id != msg.FromID {
			out = append(out, m)
		}
	}
	return out
}

// Request 发送请求并等待同一 correlationId 的响应，直到 ctx 结束。
// correlationId 在发送前登记，响应不会早于登记到达。
func (b *Bus) Request(ctx context.Context, msg *Message) (*Message, error) {
	if msg == nil {
		return nil, types.NewValidationError("message is nil")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}
	msg.Type = MessageTypeRequest
	msg.RequiresResponse = true
	if d, ok := ctx.Deadline(); ok && msg.Deadline.IsZero() {
		msg.Deadline = d
	}

	ch := make(chan *Message, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	if _, dup := b.pending[msg.CorrelationID]; dup {
		b.mu.Unlock()
		return nil, types.NewValidationError(fmt.Sprintf("correlation id %s already pending", msg.CorrelationID))
	}
	b.pending[msg.CorrelationID] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		if b.pending[msg.CorrelationID] == ch {
			delete(b.pending, msg.CorrelationID)
		}
		b.mu.Unlock()
	}

	if err := b.Send(ctx, msg); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrBusClosed
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		b.abandon(msg)
		return nil, fmt.Errorf("await response %s: %w", msg.CorrelationID, ctx.Err())
	}
}

// abandon 取消正在处理的请求。尚未出队的请求：带 Deadline 的出队时自然过期，
// 其余登记为已放弃并在出队时跳过。
func (b *Bus) abandon(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.running[msg.CorrelationID]; ok {
		cancel()
		return
	}
	if !b.closed && msg.Deadline.IsZero() {
		b.abandoned[msg.CorrelationID] = struct{}{}
	}
}

// begin 为请求派生处理 ctx，受消息 Deadline 与请求方放弃约束。
// 请求方已放弃或已过期时返回 ok=false。
func (b *Bus) begin(ctx context.Context, msg *Message) (hctx context.Context, done func(), ok bool) {
	var cancel context.CancelFunc
	if msg.Deadline.IsZero() {
		hctx, cancel = context.WithCancel(ctx)
	} else {
		hctx, cancel = context.WithDeadline(ctx, msg.Deadline)
	}
	id := msg.CorrelationID

	b.mu.Lock()
	if _, gone := b.abandoned[id]; gone {
		delete(b.abandoned, id)
		b.mu.Unlock()
		cancel()
		return nil, nil, false
	}
	if hctx.Err() != nil {
		b.mu.Unlock()
		cancel()
		return nil, nil, false
	}
	b.running[id] = cancel
	b.mu.Unlock()

	return hctx, func() {
		b.mu.Lock()
		delete(b.running, id)
		b.mu.Unlock()
		cancel()
	}, true
}

// Handler 处理邮箱收到的消息；对需要响应的请求，返回值作为响应内容
type Handler func(ctx context.Context, msg *Message) (Payload, error)

// Serve 循环处理邮箱消息直到 ctx 结束或邮箱关闭。
// 需要响应的请求会得到 handler 的返回值，handler 出错时返回 error 载荷。
func (b *Bus) Serve(ctx context.Context, m *Mailbox, h Handler) error {
	for {
		msg, err := m.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) {
				return nil
			}
			return err
		}
		switch msg.Type {
		case MessageTypeRequest:
			hctx, done, ok := b.begin(ctx, msg)
			if !ok {
				b.logger.Debug("request dropped, requester gone",
					zap.String("agent_id", m.agentID),
					zap.String("correlation_id", msg.CorrelationID))
				continue
			}
			payload, herr := h(hctx, msg)
			expired := hctx.Err() != nil
			done()
			if herr != nil {
				payload = ErrorPayload(herr)
			}
			if !msg.RequiresResponse {
				continue
			}
			if expired && ctx.Err() == nil {
				b.logger.Debug("request expired before response",
					zap.String("agent_id", m.agentID),
					zap.String("correlation_id", msg.CorrelationID))
				continue
			}
			if err := b.Send(ctx, NewResponse(msg, m.agentID, payload)); err != nil {
				b.logger.Warn("failed to send response",
					zap.String("agent_id", m.agentID),
					zap.String("correlation_id", msg.CorrelationID),
					zap.Error(err))
			}
		case MessageTypeResponse, MessageTypeNotification, MessageTypeBroadcast:
			if _, herr := h(ctx, msg); herr != nil {
				b.logger.Debug("message handler failed",
					zap.String("agent_id", m.agentID),
					zap.String("msg_id", msg.ID),
					zap.Error(herr))
			}
		}
	}
}

func (b *Bus) publishMirror(msg *Message) {
	if b.mirror == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("failed to encode mirrored message", zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}
	if err := b.mirror.Publish(b.subject(msg), data); err != nil {
		b.logger.Warn("failed to mirror message", zap.String("msg_id", msg.ID), zap.Error(err))
	}
}

func (b *Bus) subject(msg *Message) string {
	target := "all"
	if !msg.IsBroadcast() {
		target = msg.ToID
	}
	return fmt.Sprintf("%s.%s.%s", b.subjectPrefix, msg.Type, target)
}

// Close 关闭总线，所有邮箱随之关闭，等待中的 Request 返回 ErrBusClosed
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		clear(b.abandoned)
		boxes := make([]*Mailbox, 0, len(b.mailboxes))
		for _, m := range b.mailboxes {
			boxes = append(boxes, m)
		}
		b.mu.Unlock()
		for _, m := range boxes {
			m.Close()
		}
		b.logger.Debug("message bus closed")
	})
	return nil
}
