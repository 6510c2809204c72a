package runtime

import (
	"ringside/contract"
	"ringside/domain"
	"sync"

	"github.com/samber/lo"
)

type connectionSet map[contract.ConnectionID]contract.Connection

// Registry is the presence table: which live connections belong to which user.
// A user with no connection has no entry at all.
type Registry struct {
	mu          sync.RWMutex
	connections map[domain.UserID]connectionSet       // map user -> open connections
	owners      map[contract.ConnectionID]domain.UserID // reverse index used by Leave
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[domain.UserID]connectionSet),
		owners:      make(map[contract.ConnectionID]domain.UserID),
	}
}

// Join records that conn now belongs to user.
// Joining twice with the same pair is a no-op. Joining with a handle already
// owned by another user moves it, so a connection is never listed under two users.
func (r *Registry) Join(user domain.UserID, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.owners[conn.ID()]; ok && previous != user {
		r.remove(previous, conn.ID())
	}
	r.owners[conn.ID()] = user

	if _, ok := r.connections[user]; !ok {
		r.connections[user] = make(connectionSet)
	}
	r.connections[user][conn.ID()] = conn
}

// Leave removes conn from whichever user it belongs to. Unknown handles are ignored.
func (r *Registry) Leave(conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.owners[conn.ID()]
	if !ok {
		return
	}
	delete(r.owners, conn.ID())
	r.remove(user, conn.ID())
}

func (r *Registry) remove(user domain.UserID, id contract.ConnectionID) {
	set, ok := r.connections[user]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.connections, user)
	}
}

// ConnectionsFor returns a snapshot of the user's connections.
// The caller may push to them after the lock is released: a handle removed
// in the meantime simply refuses the push.
func (r *Registry) ConnectionsFor(user domain.UserID) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.connections[user]
	if !ok {
		return nil
	}
	return lo.Values(set)
}

func (r *Registry) IsOnline(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[user]
	return ok
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
