package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次文件变化
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.interval = d }
}

// WithDebounceDelay 同一文件在该时间内的多次变化只回调一次
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounceDelay = d }
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 轮询文件修改时间，变化经防抖后回调
type FileWatcher struct {
	mu            sync.Mutex
	paths         []string
	interval      time.Duration
	debounceDelay time.Duration
	callbacks     []func(FileEvent)
	lastModTimes  map[string]time.Time
	pending       map[string]FileEvent
	lastChange    time.Time
	cancel        context.CancelFunc
	done          chan struct{}
	logger        *zap.Logger
}

// NewFileWatcher 创建监听器；不存在的路径会在创建时产生 CREATE 事件
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to watch")
	}
	w := &FileWatcher{
		paths:         append([]string(nil), paths...),
		interval:      time.Second,
		debounceDelay: 100 * time.Millisecond,
		lastModTimes:  make(map[string]time.Time),
		pending:       make(map[string]FileEvent),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range w.paths {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			w.lastModTimes[path] = info.ModTime()
		case errors.Is(err, os.ErrNotExist):
			w.logger.Warn("watched file does not exist yet", zap.String("path", path))
		default:
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
	}
	return w, nil
}

// OnChange 注册回调，回调在轮询协程中串行执行
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Paths 被监听的路径
func (w *FileWatcher) Paths() []string {
	return append([]string(nil), w.paths...)
}

// IsRunning reports whether the poll loop is active
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Start 启动轮询，直到 ctx 结束或 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("watcher already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.pollLoop(ctx, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("interval", w.interval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止轮询并等待轮询协程退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("file watcher stopped")
}

func (w *FileWatcher) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.checkFiles(now)
			w.flush(now)
		}
	}
}

// checkFiles 对比修改时间，记录待回调事件
func (w *FileWatcher) checkFiles(now time.Time) {
	for _, path := range w.paths {
		info, err := os.Stat(path)
		last, tracked := w.lastModTimes[path]
		switch {
		case err != nil:
			if tracked && errors.Is(err, os.ErrNotExist) {
				delete(w.lastModTimes, path)
				w.record(FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
			}
		case !tracked:
			w.lastModTimes[path] = info.ModTime()
			w.record(FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case !info.ModTime().Equal(last):
			w.lastModTimes[path] = info.ModTime()
			w.record(FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
}

func (w *FileWatcher) record(ev FileEvent) {
	w.pending[ev.Path] = ev
	w.lastChange = ev.Timestamp
}

// flush 最近一次变化超过防抖时间后回调
func (w *FileWatcher) flush(now time.Time) {
	if len(w.pending) == 0 || now.Sub(w.lastChange) < w.debounceDelay {
		return
	}
	w.mu.Lock()
	callbacks := append(([]func(FileEvent))(nil), w.callbacks...)
	w.mu.Unlock()

	for _, path := range w.paths {
		ev, ok := w.pending[path]
		if !ok {
			continue
		}
		delete(w.pending, path)
		w.logger.Debug("dispatching file event", zap.String("path", path), zap.String("op", ev.Op.String()))
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}
