package trade

import (
	"fmt"
	"sync"
)

// Registry 持有进程内全部活跃会话：按 id 存放会话，按作用域索引会话 id。
// 由进程启动时创建并注入，不使用包级全局状态。
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	scopes   map[string][]string
}

// NewRegistry 创建会话注册表。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		scopes:   make(map[string][]string),
	}
}

// FindSession 返回 scope 内包含 identity 的活跃会话，顺带清理已结束的会话。
func (r *Registry) FindSession(scope string, identity int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.pruneScopeLocked(scope) {
		if s.Has(identity) {
			return s
		}
	}
	return nil
}

// Register 登记新会话；任一参与者在任意作用域已有活跃会话时拒绝。
func (r *Registry) Register(scope string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for existingScope := range r.scopes {
		for _, live := range r.pruneScopeLocked(existingScope) {
			if live.Has(s.a.Identity) || live.Has(s.b.Identity) {
				return fmt.Errorf("%w: 会话 %s (scope=%s)", ErrAlreadyInSession, live.ID(), existingScope)
			}
		}
	}

	r.sessions[s.ID()] = s
	r.scopes[scope] = append(r.scopes[scope], s.ID())
	return nil
}

// Unregister 移除会话，返回是否确实移除。
func (r *Registry) Unregister(scope string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return false
	}
	delete(r.sessions, s.ID())

	ids := r.scopes[scope]
	for i, id := range ids {
		if id == s.ID() {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.scopes, scope)
	} else {
		r.scopes[scope] = ids
	}
	return true
}

// Get 按 id 查找会话，包括已结束但尚未清理的会话。
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Live 返回全部未结束的会话。
func (r *Registry) Live() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for scope := range r.scopes {
		out = append(out, r.pruneScopeLocked(scope)...)
	}
	return out
}

// Len 返回登记中的会话数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// pruneScopeLocked 删除 scope 内已结束的会话并返回剩余的活跃会话。
func (r *Registry) pruneScopeLocked(scope string) []*Session {
	ids := r.scopes[scope]
	live := make([]*Session, 0, len(ids))
	kept := ids[:0]
	for _, id := range ids {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		if s.State().Terminal() {
			delete(r.sessions, id)
			continue
		}
		kept = append(kept, id)
		live = append(live, s)
	}
	if len(kept) == 0 {
		delete(r.scopes, scope)
	} else {
		r.scopes[scope] = kept
	}
	return live
}
