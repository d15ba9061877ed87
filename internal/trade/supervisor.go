package trade

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpireFunc 在会话超过截止时间时被调用。
type ExpireFunc func(ctx context.Context, sessionID string)

// Supervisor 为每个活跃会话维护一个定时检查任务。
// 每个任务有独立的取消函数，会话提前结束时可确定性地停止自己的任务。
type Supervisor struct {
	interval time.Duration
	expire   ExpireFunc
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	base   context.Context
	tasks  map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor 创建超时监督器。
func NewSupervisor(interval time.Duration, expire ExpireFunc, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Supervisor{
		interval: interval,
		expire:   expire,
		now:      time.Now,
		logger:   logger,
		base:     context.Background(),
		tasks:    make(map[string]context.CancelFunc),
	}
}

// Start 绑定任务的父 ctx；ctx 结束时全部任务随之停止。
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
}

// Watch 为会话启动超时检查任务，重复调用不会创建第二个任务。
func (s *Supervisor) Watch(sessionID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.tasks[sessionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	s.tasks[sessionID] = cancel
	s.wg.Add(1)
	go s.run(ctx, sessionID, deadline)
}

// Stop 取消会话的检查任务。
func (s *Supervisor) Stop(sessionID string) {
	s.mu.Lock()
	cancel, ok := s.tasks[sessionID]
	delete(s.tasks, sessionID)
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// Active 返回运行中的任务数量。
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close 停止全部任务并等待其退出。
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := s.tasks
	s.tasks = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range tasks {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, sessionID string, deadline time.Time) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.now().Before(deadline) {
				continue
			}
			s.logger.Info("交易会话超时",
				zap.String("session_id", sessionID),
				zap.Time("deadline", deadline),
			)
			s.expire(ctx, sessionID)
			s.Stop(sessionID)
			return
		}
	}
}
