package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"countryball/internal/store"
)

// ResourceStore 为交易引擎对持久层的全部依赖。
type ResourceStore interface {
	Get(ctx context.Context, id int64) (store.Resource, error)
	Save(ctx context.Context, r store.Resource) error
	TryLock(ctx context.Context, id int64, sessionID string, at time.Time) (bool, error)
	Unlock(ctx context.Context, id int64, sessionID string) error
	WithTransaction(ctx context.Context, fn func(tx store.ResourceTx) error) error
	ListExchanges(ctx context.Context, playerID int64, limit int) ([]store.ExchangeRecord, error)
}

var _ ResourceStore = (*store.Resources)(nil)

// ResourceLock 在存储层维护球实例的排他锁，锁记录持有者会话。
type ResourceLock struct {
	store ResourceStore
	now   func() time.Time
}

// NewResourceLock 创建资源锁。
func NewResourceLock(s ResourceStore) *ResourceLock {
	return &ResourceLock{
		store: s,
		now:   time.Now,
	}
}

// TryLock 仅当实例未被锁定时为 sessionID 加锁；检查与写入由存储层一次完成。
func (l *ResourceLock) TryLock(ctx context.Context, resourceID int64, sessionID string) (bool, error) {
	ok, err := l.store.TryLock(ctx, resourceID, sessionID, l.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("%w: %d", ErrResourceNotFound, resourceID)
	}
	if err != nil {
		return false, fmt.Errorf("trade: 加锁失败: %w", err)
	}
	return ok, nil
}

// Unlock 释放 sessionID 持有的锁，重复调用不会报错。
func (l *ResourceLock) Unlock(ctx context.Context, resourceID int64, sessionID string) error {
	if err := l.store.Unlock(ctx, resourceID, sessionID); err != nil {
		return fmt.Errorf("trade: 解锁球实例 %d 失败: %w", resourceID, err)
	}
	return nil
}

// IsLocked 判断实例当前是否被任意会话锁定。
func (l *ResourceLock) IsLocked(ctx context.Context, resourceID int64) (bool, error) {
	res, err := l.store.Get(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("%w: %d", ErrResourceNotFound, resourceID)
	}
	if err != nil {
		return false, fmt.Errorf("trade: 查询锁状态失败: %w", err)
	}
	return res.Locked(), nil
}
