package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"countryball/internal/store"
)

// persistTimeout 限制会话内单次持久化操作；与调用方的 ctx 脱钩，避免请求结束打断解锁或提交。
const persistTimeout = 10 * time.Second

type sessionDeps struct {
	store    ResourceStore
	lock     *ResourceLock
	executor *Executor
	maxItems int
	confirm  bool
	now      func() time.Time
	logger   *zap.Logger
}

// Session 协调两名参与者的一次交换。所有状态变更在 mu 下串行进行。
type Session struct {
	mu sync.Mutex

	id        string
	scope     string
	a, b      *Participant
	state     State
	status    atomic.Value // State 的无锁副本，供注册表读取
	createdAt time.Time
	deadline  time.Time

	result    *Result
	failure   error
	finalized atomic.Bool // 终态后的注销与审计只做一次

	failureReported atomic.Bool

	deps sessionDeps
}

func newSession(id, scope string, identityA, identityB int64, createdAt time.Time, timeout time.Duration, deps sessionDeps) *Session {
	s := &Session{
		id:        id,
		scope:     scope,
		a:         newParticipant(identityA, id),
		b:         newParticipant(identityB, id),
		createdAt: createdAt,
		deadline:  createdAt.Add(timeout),
		deps:      deps,
	}
	s.setState(StateOpen)
	return s
}

// ID 返回会话 id。
func (s *Session) ID() string { return s.id }

// Scope 返回会话所在的作用域。
func (s *Session) Scope() string { return s.scope }

// Deadline 返回会话的绝对截止时间，不随操作顺延。
func (s *Session) Deadline() time.Time { return s.deadline }

// State 返回当前状态，无需持有会话锁。
func (s *Session) State() State {
	return s.status.Load().(State)
}

// Has 判断 identity 是否参与该会话。
func (s *Session) Has(identity int64) bool {
	return s.a.Identity == identity || s.b.Identity == identity
}

// Snapshot 返回会话的只读视图。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddItem 将球实例加入参与者提案并为本会话加锁。
func (s *Session) AddItem(ctx context.Context, identity, resourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, other, err := s.editableLocked(ctx, identity)
	if err != nil {
		return err
	}
	if p.has(resourceID) {
		return fmt.Errorf("%w: %d", ErrAlreadyProposed, resourceID)
	}
	if other.has(resourceID) {
		return fmt.Errorf("%w: %d 已在对方提案中", ErrNotOwner, resourceID)
	}
	if s.deps.maxItems > 0 && len(p.Proposal) >= s.deps.maxItems {
		return fmt.Errorf("%w: 上限 %d", ErrProposalFull, s.deps.maxItems)
	}

	res, err := s.deps.store.Get(ctx, resourceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %d", ErrResourceNotFound, resourceID)
	case err != nil:
		return fmt.Errorf("trade: 读取球实例失败: %w", err)
	}
	if res.OwnerID == other.Identity {
		return fmt.Errorf("%w: %d 属于对方", ErrNotOwner, resourceID)
	}
	if res.OwnerID != p.Identity {
		return fmt.Errorf("%w: %d", ErrNotOwner, resourceID)
	}
	if !res.Tradeable {
		return fmt.Errorf("%w: %d", ErrNotTradeable, resourceID)
	}

	// 加锁一旦落库就必须记入提案，否则该锁无人释放
	opCtx, cancel := persistContext(ctx)
	defer cancel()
	ok, err := s.deps.lock.TryLock(opCtx, resourceID, s.id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrResourceLocked, resourceID)
	}

	p.Proposal = append(p.Proposal, Item{ID: res.ID, Label: res.Label})
	return nil
}

// RemoveItem 从参与者提案中移除球实例并释放锁。
func (s *Session) RemoveItem(ctx context.Context, identity, resourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, _, err := s.editableLocked(ctx, identity)
	if err != nil {
		return err
	}
	if !p.has(resourceID) {
		return fmt.Errorf("%w: %d", ErrNotProposed, resourceID)
	}

	opCtx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.deps.lock.Unlock(opCtx, resourceID, s.id); err != nil {
		return err
	}
	p.remove(resourceID)
	return nil
}

// Lock 锁定参与者提案；双方均锁定时在同一步内进入执行（或等待确认）。
// 重复锁定是空操作，不会触发第二次执行。
func (s *Session) Lock(ctx context.Context, identity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.activeLocked(ctx); err != nil {
		return err
	}
	p, _, err := s.participantLocked(identity)
	if err != nil {
		return err
	}
	if p.Locked {
		return nil
	}
	if s.state != StateOpen {
		return s.closedErrLocked()
	}

	p.Locked = true
	s.deps.logger.Info("参与者已锁定提案",
		zap.String("session_id", s.id),
		zap.Int64("identity", identity),
		zap.Int("items", len(p.Proposal)),
	)

	if !s.a.Locked || !s.b.Locked {
		return nil
	}
	if s.deps.confirm {
		s.setState(StatePendingConfirmation)
		return nil
	}
	return s.executeLocked(ctx)
}

// Accept 在确认模式下确认交易；双方确认后执行交换。
func (s *Session) Accept(ctx context.Context, identity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.activeLocked(ctx); err != nil {
		return err
	}
	p, _, err := s.participantLocked(identity)
	if err != nil {
		return err
	}
	if s.state != StatePendingConfirmation {
		if s.state == StateOpen {
			return ErrNotPendingConfirmation
		}
		return s.closedErrLocked()
	}
	if p.Accepted {
		return nil
	}

	p.Accepted = true
	if !s.a.Accepted || !s.b.Accepted {
		return nil
	}
	return s.executeLocked(ctx)
}

// Cancel 由参与者取消会话，释放双方提案中的全部锁。
func (s *Session) Cancel(ctx context.Context, identity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.participantLocked(identity); err != nil {
		return err
	}
	return s.cancelLocked(ctx, identity, StateCancelled)
}

// Expire 由超时监督器调用，与玩家取消走同一条解锁路径。
func (s *Session) Expire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, SystemInitiator, StateTimedOut)
}

// shutdown 在进程退出时取消会话。
func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, SystemInitiator, StateCancelled)
}

// resolve 为人工处理执行失败的会话：释放其仍持有的锁并标记为取消。
func (s *Session) resolve(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateExecuting {
		return fmt.Errorf("%w: 当前状态 %s", ErrSessionClosed, s.state)
	}
	err := s.unlockAllLocked(ctx)
	s.setState(StateCancelled)
	s.deps.logger.Warn("执行失败的会话已人工处理",
		zap.String("session_id", s.id),
		zap.NamedError("execution_error", s.failure),
		zap.Error(err),
	)
	return err
}

func (s *Session) cancelLocked(ctx context.Context, initiator int64, final State) error {
	if s.state != StateOpen && s.state != StatePendingConfirmation {
		return s.closedErrLocked()
	}

	switch initiator {
	case s.a.Identity:
		s.a.Cancelled = true
	case s.b.Identity:
		s.b.Cancelled = true
	}
	s.setState(final)

	err := s.unlockAllLocked(ctx)
	if err != nil {
		s.deps.logger.Error("取消会话时解锁失败",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
	}
	s.deps.logger.Info("交易会话已取消",
		zap.String("session_id", s.id),
		zap.String("scope", s.scope),
		zap.String("state", string(final)),
		zap.Int64("initiator", initiator),
	)
	return err
}

func (s *Session) unlockAllLocked(ctx context.Context) error {
	opCtx, cancel := persistContext(ctx)
	defer cancel()

	var err error
	for _, p := range []*Participant{s.a, s.b} {
		for _, item := range p.Proposal {
			err = multierr.Append(err, s.deps.lock.Unlock(opCtx, item.ID, s.id))
		}
	}
	return err
}

func (s *Session) executeLocked(ctx context.Context) error {
	s.setState(StateExecuting)

	opCtx, cancel := persistContext(ctx)
	defer cancel()

	result, err := s.deps.executor.Execute(opCtx, ExchangePlan{
		SessionID: s.id,
		Scope:     s.scope,
		PartyA:    s.a.Identity,
		PartyB:    s.b.Identity,
		FromA:     s.a.ids(),
		FromB:     s.b.ids(),
	})
	if err != nil {
		// 保持 Executing 与锁，等待人工处理
		s.failure = err
		return err
	}

	s.result = &result
	s.a.Proposal = nil
	s.b.Proposal = nil
	s.setState(StateCompleted)
	s.deps.logger.Info("交易完成",
		zap.String("session_id", s.id),
		zap.Int64("trade_id", result.TradeID),
		zap.Int("transfers", len(result.Transfers)),
	)
	return nil
}

// activeLocked 拒绝已结束的会话，并在截止时间已过时按超时取消。
func (s *Session) activeLocked(ctx context.Context) error {
	if s.state.Terminal() || s.state == StateExecuting {
		return s.closedErrLocked()
	}
	if !s.deps.now().Before(s.deadline) {
		if err := s.cancelLocked(ctx, SystemInitiator, StateTimedOut); err != nil {
			return multierr.Append(ErrSessionExpired, err)
		}
		return ErrSessionExpired
	}
	return nil
}

func (s *Session) editableLocked(ctx context.Context, identity int64) (*Participant, *Participant, error) {
	if err := s.activeLocked(ctx); err != nil {
		return nil, nil, err
	}
	p, other, err := s.participantLocked(identity)
	if err != nil {
		return nil, nil, err
	}
	if p.Locked {
		return nil, nil, ErrSessionLockedForEditing
	}
	return p, other, nil
}

func (s *Session) participantLocked(identity int64) (*Participant, *Participant, error) {
	switch identity {
	case s.a.Identity:
		return s.a, s.b, nil
	case s.b.Identity:
		return s.b, s.a, nil
	default:
		return nil, nil, ErrNotParticipant
	}
}

func (s *Session) closedErrLocked() error {
	switch {
	case s.state == StateExecuting && s.failure != nil:
		return s.failure
	case s.state == StateTimedOut:
		return ErrSessionExpired
	default:
		return fmt.Errorf("%w: 当前状态 %s", ErrSessionClosed, s.state)
	}
}

func (s *Session) setState(state State) {
	s.state = state
	s.status.Store(state)
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Scope:        s.scope,
		State:        s.state,
		CreatedAt:    s.createdAt,
		Deadline:     s.deadline,
		Participants: [2]ParticipantSnapshot{s.a.snapshot(), s.b.snapshot()},
	}
	if s.result != nil {
		snap.TradeID = s.result.TradeID
		snap.Transfers = append([]store.Transfer(nil), s.result.Transfers...)
	}
	return snap
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
