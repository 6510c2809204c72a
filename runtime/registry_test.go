package runtime

import (
	"context"
	"ringside/contract"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeConn records every event pushed to it.
type fakeConn struct {
	id       contract.ConnectionID
	mu       sync.Mutex
	received []event.Outbound
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: contract.ConnectionID(uuid.NewString())}
}

func (c *fakeConn) ID() contract.ConnectionID { return c.id }

func (c *fakeConn) Consume(_ context.Context, e event.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrSinkClosed
	}
	c.received = append(c.received, e)
	return nil
}

func (c *fakeConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) events() []event.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Outbound(nil), c.received...)
}

func TestRegistry_Join_One_User_One_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	// Given nobody is online
	req.Zero(registry.UserCount())
	req.Nil(registry.ConnectionsFor("alice"))

	// When alice joins
	registry.Join("alice", conn)

	// Then
	req.Equal(1, registry.UserCount())
	req.Equal(1, registry.ConnectionCount())
	req.True(registry.IsOnline("alice"))
	req.ElementsMatch([]contract.Connection{conn}, registry.ConnectionsFor("alice"))
}

func TestRegistry_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	// When the same pair joins twice
	registry.Join("alice", conn)
	registry.Join("alice", conn)

	// Then the connection is listed once
	req.Len(registry.ConnectionsFor("alice"), 1)
	req.Equal(1, registry.ConnectionCount())
}

func TestRegistry_Join_Multiple_Devices(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	phone := newFakeConn()
	laptop := newFakeConn()

	// When alice joins from two devices
	registry.Join("alice", phone)
	registry.Join("alice", laptop)

	// Then both are listed under one user
	req.Equal(1, registry.UserCount())
	req.ElementsMatch([]contract.Connection{phone, laptop}, registry.ConnectionsFor("alice"))
}

func TestRegistry_Join_Under_Another_User_Moves_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	// Given the connection joined as alice
	registry.Join("alice", conn)

	// When it joins again as bob
	registry.Join("bob", conn)

	// Then alice has no entry left
	req.False(registry.IsOnline("alice"))
	req.Nil(registry.ConnectionsFor("alice"))
	req.ElementsMatch([]contract.Connection{conn}, registry.ConnectionsFor("bob"))
	req.Equal(1, registry.ConnectionCount())
}

func TestRegistry_Leave_Last_Connection_Removes_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	// Given alice is online with one connection
	registry.Join("alice", conn)

	// When the connection leaves
	registry.Leave(conn)

	// Then no empty entry is left behind
	req.False(registry.IsOnline("alice"))
	req.Zero(registry.UserCount())
	req.Zero(registry.ConnectionCount())
	req.Empty(registry.connections)
	req.Empty(registry.owners)
}

func TestRegistry_Leave_Keeps_Other_Devices(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	phone := newFakeConn()
	laptop := newFakeConn()
	registry.Join("alice", phone)
	registry.Join("alice", laptop)

	// When one device leaves
	registry.Leave(phone)

	// Then the other stays reachable
	req.ElementsMatch([]contract.Connection{laptop}, registry.ConnectionsFor("alice"))
}

func TestRegistry_Leave_Unknown_Connection_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	registry.Join("alice", newFakeConn())

	// When a connection that never joined leaves
	registry.Leave(newFakeConn())

	// Then nothing changes
	req.Equal(1, registry.UserCount())
	req.Equal(1, registry.ConnectionCount())
}

func TestRegistry_ConnectionsFor_Returns_Snapshot(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()
	registry.Join("alice", conn)

	// Given a snapshot taken before the connection leaves
	snapshot := registry.ConnectionsFor("alice")
	registry.Leave(conn)

	// Then the snapshot is untouched
	req.Len(snapshot, 1)
	req.Nil(registry.ConnectionsFor("alice"))
}

func TestRegistry_Concurrent_Join_Leave(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	users := []domain.UserID{"alice", "bob", "carol"}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn()
			user := users[i%len(users)]
			registry.Join(user, conn)
			_ = registry.ConnectionsFor(user)
			registry.Leave(conn)
		}(i)
	}
	wg.Wait()

	// Then every entry has been cleaned up
	req.Zero(registry.UserCount())
	req.Zero(registry.ConnectionCount())
}
