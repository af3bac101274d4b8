package realtime

import "sync"

// Registry maps identities to the handles of their live connections, oldest
// first. Lookup resolves to the most recent connection; room fan-out in the hub
// reaches all of them.
type Registry struct {
	mu      sync.RWMutex
	handles map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string][]string)}
}

// Register records handle for identity. It reports whether identity was
// offline before the call.
func (r *Registry) Register(identity, handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handles[identity]
	for _, h := range current {
		if h == handle {
			return false
		}
	}
	r.handles[identity] = append(current, handle)
	return len(current) == 0
}

// Deregister removes handle from identity. A handle that is not registered
// for identity leaves the registry untouched, so a stale connection can never
// evict a newer one. last reports that identity has no connections left.
func (r *Registry) Deregister(identity, handle string) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handles[identity]
	for i, h := range current {
		if h != handle {
			continue
		}
		rest := append(current[:i:i], current[i+1:]...)
		if len(rest) == 0 {
			delete(r.handles, identity)
			return true, true
		}
		r.handles[identity] = rest
		return true, false
	}
	return false, false
}

// Lookup returns the most recently registered handle for identity.
func (r *Registry) Lookup(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := r.handles[identity]
	if len(current) == 0 {
		return "", false
	}
	return current[len(current)-1], true
}

// Handles returns a copy of every handle registered for identity.
func (r *Registry) Handles(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.handles[identity]...)
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[identity]) > 0
}

// Len returns the number of online identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Reset forgets every identity.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.handles = make(map[string][]string)
	r.mu.Unlock()
}
