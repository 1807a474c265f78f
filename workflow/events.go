package workflow

import "sync"

// eventHub 将任务事件扇出给订阅者。新订阅者先收到历史事件，运行结束后通道关闭。
type eventHub struct {
	mu      sync.Mutex
	history []TaskEvent
	subs    map[*subscriber]struct{}
	closed  bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*subscriber]struct{})}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []TaskEvent
	closed bool
	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
	out    chan TaskEvent
}

func (s *subscriber) enqueue(evs ...TaskEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, evs...)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump 按顺序投递，队列不设上限，发布方永不阻塞
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
			continue
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-s.notify:
		case <-s.stop:
			return
		}
	}
}

func (h *eventHub) publish(ev TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.history = append(h.history, ev)
	for s := range h.subs {
		s.enqueue(ev)
	}
}

// subscribe 返回事件通道与取消函数
func (h *eventHub) subscribe() (<-chan TaskEvent, func()) {
	s := &subscriber{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan TaskEvent),
	}
	h.mu.Lock()
	s.queue = append(s.queue, h.history...)
	if h.closed {
		s.closed = true
	} else {
		h.subs[s] = struct{}{}
	}
	h.mu.Unlock()
	go s.pump()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.stop)
		})
	}
	return s.out, cancel
}

func (h *eventHub) events() []TaskEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TaskEvent(nil), h.history...)
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.finish()
	}
}
