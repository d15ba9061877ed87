package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"countryball/internal/config"
	"countryball/internal/store"
)

// EventKind 为会话审计事件类型。
type EventKind string

const (
	EventSessionCreated   EventKind = "session_created"
	EventSessionCompleted EventKind = "session_completed"
	EventSessionCancelled EventKind = "session_cancelled"
	EventSessionTimedOut  EventKind = "session_timed_out"
	EventExecutionFailed  EventKind = "execution_failed"
	EventSessionResolved  EventKind = "session_resolved"
)

// Recorder 接收会话生命周期事件。
type Recorder interface {
	RecordSession(ctx context.Context, kind EventKind, snap Snapshot, cause error)
}

type nopRecorder struct{}

func (nopRecorder) RecordSession(context.Context, EventKind, Snapshot, error) {}

// DefaultSessionTimeout 为未配置超时时的会话时长。
const DefaultSessionTimeout = 30 * time.Minute

// Options 控制引擎行为。
type Options struct {
	SessionTimeout      time.Duration
	CheckInterval       time.Duration
	MaxItemsPerSide     int
	RequireConfirmation bool
}

// OptionsFromConfig 由配置生成引擎参数。
func OptionsFromConfig(cfg config.TradeConfig) Options {
	return Options{
		SessionTimeout:      cfg.SessionTimeout,
		CheckInterval:       cfg.CheckInterval,
		MaxItemsPerSide:     cfg.MaxItemsPerSide,
		RequireConfirmation: cfg.RequireConfirmation,
	}
}

func (o Options) normalize() Options {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 15 * time.Second
	}
	return o
}

// Engine 为展示层提供交易操作入口，按 (scope, identity) 将操作路由到会话。
type Engine struct {
	opts       Options
	store      ResourceStore
	registry   *Registry
	supervisor *Supervisor
	lock       *ResourceLock
	executor   *Executor
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine 创建交易引擎。registry 由调用方创建并在进程生命周期内复用。
func NewEngine(opts Options, s ResourceStore, registry *Registry, recorder Recorder, logger *zap.Logger) (*Engine, error) {
	if s == nil {
		return nil, errors.New("trade: store 不能为空")
	}
	if registry == nil {
		return nil, errors.New("trade: registry 不能为空")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts = opts.normalize()
	e := &Engine{
		opts:     opts,
		store:    s,
		registry: registry,
		lock:     NewResourceLock(s),
		executor: NewExecutor(s, logger),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	e.supervisor = NewSupervisor(opts.CheckInterval, e.expire, logger)
	return e, nil
}

// Start 启动超时监督，ctx 结束时全部检查任务停止。
func (e *Engine) Start(ctx context.Context) {
	e.supervisor.Start(ctx)
}

// CreateSession 在 scope 内为两名玩家创建会话。
func (e *Engine) CreateSession(ctx context.Context, scope string, identityA, identityB int64) (Handle, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return Handle{}, errors.New("trade: scope 不能为空")
	}
	if identityA == identityB {
		return Handle{}, ErrSelfExchange
	}
	if identityA == SystemInitiator || identityB == SystemInitiator {
		return Handle{}, ErrNotParticipant
	}

	s := newSession(uuid.NewString(), scope, identityA, identityB, e.now(), e.opts.SessionTimeout, e.sessionDeps())
	// 先建立超时任务再发布会话，保证 finalize 的 Stop 总能找到它
	e.supervisor.Watch(s.ID(), s.Deadline())
	if err := e.registry.Register(scope, s); err != nil {
		e.supervisor.Stop(s.ID())
		return Handle{}, err
	}

	e.logger.Info("交易会话已创建",
		zap.String("session_id", s.ID()),
		zap.String("scope", scope),
		zap.Int64("identity_a", identityA),
		zap.Int64("identity_b", identityB),
		zap.Time("deadline", s.Deadline()),
	)
	e.recorder.RecordSession(ctx, EventSessionCreated, s.Snapshot(), nil)

	return Handle{ID: s.ID(), Scope: scope, Deadline: s.Deadline()}, nil
}

// AddItem 将球实例加入 identity 的提案。
func (e *Engine) AddItem(ctx context.Context, scope string, identity, resourceID int64) (Snapshot, error) {
	return e.act(ctx, scope, identity, func(s *Session) error {
		return s.AddItem(ctx, identity, resourceID)
	})
}

// RemoveItem 从 identity 的提案移除球实例。
func (e *Engine) RemoveItem(ctx context.Context, scope string, identity, resourceID int64) (Snapshot, error) {
	return e.act(ctx, scope, identity, func(s *Session) error {
		return s.RemoveItem(ctx, identity, resourceID)
	})
}

// Lock 锁定 identity 的提案；双方锁定后自动执行或进入确认阶段。
func (e *Engine) Lock(ctx context.Context, scope string, identity int64) (Snapshot, error) {
	return e.act(ctx, scope, identity, func(s *Session) error {
		return s.Lock(ctx, identity)
	})
}

// Accept 在确认模式下确认交易。
func (e *Engine) Accept(ctx context.Context, scope string, identity int64) (Snapshot, error) {
	return e.act(ctx, scope, identity, func(s *Session) error {
		return s.Accept(ctx, identity)
	})
}

// Cancel 取消 identity 所在的会话。
func (e *Engine) Cancel(ctx context.Context, scope string, identity int64) (Snapshot, error) {
	return e.act(ctx, scope, identity, func(s *Session) error {
		return s.Cancel(ctx, identity)
	})
}

// Dispatch 将指令路由到对应的会话操作。
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (Snapshot, error) {
	switch cmd.Kind {
	case CommandAdd:
		return e.AddItem(ctx, cmd.Scope, cmd.Identity, cmd.ResourceID)
	case CommandRemove:
		return e.RemoveItem(ctx, cmd.Scope, cmd.Identity, cmd.ResourceID)
	case CommandLock:
		return e.Lock(ctx, cmd.Scope, cmd.Identity)
	case CommandAccept:
		return e.Accept(ctx, cmd.Scope, cmd.Identity)
	case CommandCancel:
		return e.Cancel(ctx, cmd.Scope, cmd.Identity)
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
}

// GetState 返回 identity 在 scope 内的活跃会话视图。
func (e *Engine) GetState(scope string, identity int64) (Snapshot, error) {
	s := e.registry.FindSession(scope, identity)
	if s == nil {
		return Snapshot{}, ErrNoSession
	}
	return s.Snapshot(), nil
}

// Live 返回全部活跃会话的视图。
func (e *Engine) Live() []Snapshot {
	sessions := e.registry.Live()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Stats 为引擎运行统计。
type Stats struct {
	LiveSessions    int
	SupervisedTasks int
}

// Stats 返回当前活跃会话与监督任务数量。
func (e *Engine) Stats() Stats {
	return Stats{
		LiveSessions:    len(e.registry.Live()),
		SupervisedTasks: e.supervisor.Active(),
	}
}

// History 返回 identity 最近完成的交易。
func (e *Engine) History(ctx context.Context, identity int64, limit int) ([]store.ExchangeRecord, error) {
	records, err := e.store.ListExchanges(ctx, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("trade: 查询交易历史失败: %w", err)
	}
	return records, nil
}

// Resolve 由运维人员处理执行失败的会话：释放其持有的锁并结束会话。
func (e *Engine) Resolve(ctx context.Context, sessionID string) (Snapshot, error) {
	s := e.registry.Get(sessionID)
	if s == nil {
		return Snapshot{}, ErrNoSession
	}

	err := s.resolve(ctx)
	if errors.Is(err, ErrSessionClosed) {
		return s.Snapshot(), err
	}
	snap := s.Snapshot()
	if s.finalized.CompareAndSwap(false, true) {
		e.registry.Unregister(s.Scope(), s)
		e.supervisor.Stop(s.ID())
		e.recorder.RecordSession(ctx, EventSessionResolved, snap, err)
	}
	return snap, err
}

// Shutdown 取消全部未结束的会话并停止超时监督；会话不跨进程保留。
func (e *Engine) Shutdown(ctx context.Context) error {
	defer e.supervisor.Close()

	var (
		mu     sync.Mutex
		errAll error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, s := range e.registry.Live() {
		s := s
		group.Go(func() error {
			err := s.shutdown(groupCtx)
			if err != nil && !errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrExecutionFailed) {
				mu.Lock()
				errAll = multierr.Append(errAll, fmt.Errorf("会话 %s: %w", s.ID(), err))
				mu.Unlock()
			}
			e.finalize(groupCtx, s, nil)
			return nil
		})
	}
	_ = group.Wait()

	if errAll != nil {
		return fmt.Errorf("trade: 停机取消会话失败: %w", errAll)
	}
	return nil
}

func (e *Engine) act(ctx context.Context, scope string, identity int64, op func(s *Session) error) (Snapshot, error) {
	s := e.registry.FindSession(scope, identity)
	if s == nil {
		return Snapshot{}, ErrNoSession
	}

	err := op(s)
	snap := s.Snapshot()
	e.finalize(ctx, s, err)
	return snap, err
}

// finalize 在会话进入终态或执行失败后收尾：注销、停止监督并记录事件。
func (e *Engine) finalize(ctx context.Context, s *Session, cause error) {
	state := s.State()

	if state == StateExecuting && errors.Is(cause, ErrExecutionFailed) {
		if !s.failureReported.CompareAndSwap(false, true) {
			return
		}
		e.supervisor.Stop(s.ID())
		e.logger.Error("交易执行失败，会话保持锁定等待人工处理",
			zap.String("session_id", s.ID()),
			zap.String("scope", s.Scope()),
			zap.Error(cause),
		)
		e.recorder.RecordSession(ctx, EventExecutionFailed, s.Snapshot(), cause)
		return
	}

	if !state.Terminal() || !s.finalized.CompareAndSwap(false, true) {
		return
	}

	e.registry.Unregister(s.Scope(), s)
	e.supervisor.Stop(s.ID())

	kind := EventSessionCancelled
	switch state {
	case StateCompleted:
		kind = EventSessionCompleted
	case StateTimedOut:
		kind = EventSessionTimedOut
	}
	e.recorder.RecordSession(ctx, kind, s.Snapshot(), cause)
}

func (e *Engine) expire(ctx context.Context, sessionID string) {
	s := e.registry.Get(sessionID)
	if s == nil {
		return
	}

	err := s.Expire(ctx)
	switch {
	case err == nil:
	case s.State() == StateExecuting:
		e.logger.Error("会话已超时但停留在执行中，需要人工处理",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrSessionExpired):
	default:
		e.logger.Error("超时取消会话失败", zap.String("session_id", sessionID), zap.Error(err))
	}
	e.finalize(ctx, s, err)
}

func (e *Engine) sessionDeps() sessionDeps {
	return sessionDeps{
		store:    e.store,
		lock:     e.lock,
		executor: e.executor,
		maxItems: e.opts.MaxItemsPerSide,
		confirm:  e.opts.RequireConfirmation,
		now:      e.now,
		logger:   e.logger,
	}
}
