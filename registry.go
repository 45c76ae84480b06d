package wsline

import (
	"sync"
)

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Registry is the set of upgraded sessions keyed by peer address.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Add registers session, replacing nothing. It reports false
// when the address is already present.
func (r *Registry) Add(session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, has := r.sessions[session.Addr()]; has {
		return false
	}
	r.sessions[session.Addr()] = session
	return true
}

// Remove drops the session registered under addr.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	delete(r.sessions, addr)
	r.mu.Unlock()
}

func (r *Registry) Contains(addr string) bool {
	r.mu.RLock()
	_, has := r.sessions[addr]
	r.mu.RUnlock()
	return has
}

func (r *Registry) Get(addr string) (*Session, bool) {
	r.mu.RLock()
	session, has := r.sessions[addr]
	r.mu.RUnlock()
	return session, has
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for a snapshot of the registered sessions until fn returns false.
// fn runs without the registry lock held, so it may call Add or Remove.
func (r *Registry) Range(fn func(session *Session) bool) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	r.mu.RUnlock()

	for _, session := range snapshot {
		if !fn(session) {
			return
		}
	}
}
