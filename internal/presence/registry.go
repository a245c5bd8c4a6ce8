package presence

import (
	"sort"
	"sync"
)

// Registry maps identities to their live connection and back. Both maps are
// guarded by one mutex so readers never observe a half-applied mutation.
type Registry struct {
	mu     sync.RWMutex
	byUser map[Identity]ConnID
	byConn map[ConnID]Identity
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[Identity]ConnID),
		byConn: make(map[ConnID]Identity),
	}
}

// Bind associates id with conn, overwriting whatever either side was bound
// to before. If id was bound to a different connection, that connection is
// returned as superseded.
func (r *Registry) Bind(id Identity, conn ConnID) (superseded ConnID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.byUser[id]; exists && old != conn {
		delete(r.byConn, old)
		superseded, ok = old, true
	}
	// conn re-bound to another identity: drop that identity's forward entry.
	if prev, exists := r.byConn[conn]; exists && prev != id {
		if r.byUser[prev] == conn {
			delete(r.byUser, prev)
		}
	}

	r.byUser[id] = conn
	r.byConn[conn] = id
	return superseded, ok
}

// Unbind removes conn's binding only if it is still the current one in both
// directions. A connection that was superseded by a newer Bind reports false
// and leaves the newer binding alone.
func (r *Registry) Unbind(conn ConnID) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	if cur, exists := r.byUser[id]; !exists || cur != conn {
		return "", false
	}
	delete(r.byConn, conn)
	delete(r.byUser, id)
	return id, true
}

func (r *Registry) Lookup(id Identity) (ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[id]
	return conn, ok
}

// IdentityOf is the inverse of Lookup.
func (r *Registry) IdentityOf(conn ConnID) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// Online returns the bound identities in ascending order.
func (r *Registry) Online() []Identity {
	r.mu.RLock()
	names := make([]Identity, 0, len(r.byUser))
	for id := range r.byUser {
		names = append(names, id)
	}
	r.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
