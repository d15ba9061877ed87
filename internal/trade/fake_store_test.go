package trade

import (
	"context"
	"errors"
	"sync"
	"time"

	"countryball/internal/store"
)

// memStore 为测试用的内存实现，TryLock 在互斥锁下完成检查与写入。
type memStore struct {
	mu        sync.Mutex
	resources map[int64]store.Resource
	exchanges []store.ExchangeRecord
	nextID    int64

	failSaveOn int64 // 非零时对该实例的 Save 返回错误
	txCount    int
}

var (
	_ ResourceStore    = (*memStore)(nil)
	_ store.ResourceTx = (*memTx)(nil)
)

func newMemStore() *memStore {
	return &memStore{resources: make(map[int64]store.Resource)}
}

func (m *memStore) add(owner int64, label string, tradeable bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.resources[m.nextID] = store.Resource{
		ID:        m.nextID,
		OwnerID:   owner,
		Label:     label,
		Tradeable: tradeable,
		CreatedAt: time.Now().UTC(),
	}
	return m.nextID
}

func (m *memStore) resource(id int64) store.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resources[id]
}

func (m *memStore) lockedBy(id int64) string {
	return m.resource(id).LockedBy
}

func (m *memStore) Get(_ context.Context, id int64) (store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return store.Resource{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) Save(_ context.Context, r store.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[r.ID]; !ok {
		return store.ErrNotFound
	}
	m.resources[r.ID] = r
	return nil
}

func (m *memStore) TryLock(_ context.Context, id int64, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.LockedBy != "" {
		return false, nil
	}
	r.LockedBy = sessionID
	r.LockedAt = at
	m.resources[id] = r
	return true, nil
}

func (m *memStore) Unlock(_ context.Context, id int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok || r.LockedBy != sessionID {
		return nil
	}
	r.LockedBy = ""
	r.LockedAt = time.Time{}
	m.resources[id] = r
	return nil
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(tx store.ResourceTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	tx := &memTx{
		parent:    m,
		resources: make(map[int64]store.Resource, len(m.resources)),
	}
	for id, r := range m.resources {
		tx.resources[id] = r
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.resources = tx.resources
	m.exchanges = append(m.exchanges, tx.exchanges...)
	return nil
}

func (m *memStore) ListExchanges(_ context.Context, playerID int64, limit int) ([]store.ExchangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ExchangeRecord, 0)
	for i := len(m.exchanges) - 1; i >= 0; i-- {
		rec := m.exchanges[i]
		if rec.PlayerA != playerID && rec.PlayerB != playerID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

type memTx struct {
	parent    *memStore
	resources map[int64]store.Resource
	exchanges []store.ExchangeRecord
}

func (t *memTx) Get(_ context.Context, id int64) (store.Resource, error) {
	r, ok := t.resources[id]
	if !ok {
		return store.Resource{}, store.ErrNotFound
	}
	return r, nil
}

func (t *memTx) Save(_ context.Context, r store.Resource) error {
	if t.parent.failSaveOn != 0 && r.ID == t.parent.failSaveOn {
		return errors.New("disk I/O error")
	}
	t.resources[r.ID] = r
	return nil
}

func (t *memTx) RecordExchange(_ context.Context, rec store.ExchangeRecord) (int64, error) {
	rec.ID = int64(len(t.parent.exchanges) + len(t.exchanges) + 1)
	t.exchanges = append(t.exchanges, rec)
	return rec.ID, nil
}

// eventLog 记录引擎上报的事件。
type eventLog struct {
	mu     sync.Mutex
	events []EventKind
}

func (l *eventLog) RecordSession(_ context.Context, kind EventKind, _ Snapshot, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, kind)
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.events {
		if k == kind {
			n++
		}
	}
	return n
}
