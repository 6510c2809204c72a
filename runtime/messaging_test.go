package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/repositories"
	"ringside/runtime/workers"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type harness struct {
	registry *Registry
	relay    *Relay
	loader   *Loader
	life     *Lifecycle
}

// newHarness wires the core on a badger store with running dispatch workers.
func newHarness(t *testing.T) harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store, err := repositories.NewBadgerMessageStore(db, log)
	require.NoError(t, err)

	registry := NewRegistry()
	dispatcher := workers.NewDispatcher(log, registry, 4, 64, time.Second)
	supervisor := workers.NewSupervisor(log, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Add(dispatcher.Workers()...).Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = store.Close()
	})

	return harness{
		registry: registry,
		relay:    NewRelay(log, store, dispatcher, 1000),
		loader:   NewLoader(log, store, 0),
		life:     NewLifecycle(log, registry),
	}
}

func pushed(conn *fakeConn) []event.PrivateMessage {
	var res []event.PrivateMessage
	for _, e := range conn.events() {
		if pm, ok := e.(event.PrivateMessage); ok {
			res = append(res, pm)
		}
	}
	return res
}

func history(t *testing.T, h harness, a, b domain.UserID) []domain.Message {
	t.Helper()
	conn := newFakeConn()
	require.NoError(t, h.loader.LoadHistory(context.Background(), conn, a, b))
	events := conn.events()
	require.Len(t, events, 1)
	return events[0].(event.MessageHistory)
}

func TestMessaging_End_To_End(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	h1, h2, h3 := newFakeConn(), newFakeConn(), newFakeConn()

	// Given A joins with h1 and B joins with h2 and h3
	h.registry.Join("A", h1)
	h.registry.Join("B", h2)
	h.registry.Join("B", h3)

	// When A sends "hello" to B
	_, err := h.relay.Send(ctx, h1, "A", "B", "hello")
	req.NoError(err)

	// Then both of B's connections receive the push
	for _, conn := range []*fakeConn{h2, h3} {
		req.Eventually(func() bool { return len(pushed(conn)) == 1 }, time.Second, 5*time.Millisecond)
		pm := pushed(conn)[0]
		req.Equal("hello", pm.Message)
		req.Equal(domain.UserID("A"), pm.SenderID)
	}
	// And the sender gets no echo
	req.Empty(h1.events())

	// And B's history holds the message as sole entry
	messages := history(t, h, "A", "B")
	req.Len(messages, 1)
	req.Equal("hello", messages[0].Body)
	req.Equal(domain.UserID("A"), messages[0].SenderID)
	req.Equal(domain.UserID("B"), messages[0].RecipientID)
}

func TestMessaging_History_Follows_Persist_Order(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	var want []domain.Message
	for i := 0; i < 20; i++ {
		from, to := domain.UserID("A"), domain.UserID("B")
		if i%3 == 0 {
			from, to = to, from
		}
		msg, err := h.relay.Send(ctx, newFakeConn(), from, to, fmt.Sprintf("m%d", i))
		req.NoError(err)
		want = append(want, msg)
	}

	req.Equal(want, history(t, h, "A", "B"))
	req.Equal(want, history(t, h, "B", "A"))
}

func TestMessaging_Concurrent_Senders_Ordered_Per_Connection(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	inbox := newFakeConn()
	h.registry.Join("B", inbox)

	// When several senders write to B concurrently
	var wg sync.WaitGroup
	for s := 0; s < 5; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := h.relay.Send(ctx, newFakeConn(), domain.UserID(fmt.Sprintf("S%d", s)), "B", "ping")
				req.NoError(err)
			}
		}(s)
	}
	wg.Wait()

	// Then B's connection sees every message, each sender's messages in the order they were persisted
	req.Eventually(func() bool { return len(pushed(inbox)) == 50 }, 2*time.Second, 5*time.Millisecond)
	last := make(map[domain.UserID]uint64)
	for _, m := range pushed(inbox) {
		req.Less(last[m.SenderID], m.ID)
		last[m.SenderID] = m.ID
	}
	req.Len(last, 5)
}

func TestMessaging_Offline_Recipient_Sees_Message_Later(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given B is offline
	_, err := h.relay.Send(context.Background(), newFakeConn(), "A", "B", "are you there ?")
	req.NoError(err)

	// When B comes back and loads history
	conn := newFakeConn()
	h.registry.Join("B", conn)
	messages := history(t, h, "B", "A")

	// Then the message is there and nothing was pushed
	req.Len(messages, 1)
	req.Equal("are you there ?", messages[0].Body)
	req.Empty(conn.events())
}

func TestMessaging_Left_Connection_Receives_Nothing(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	gone := newFakeConn()
	stays := newFakeConn()
	h.registry.Join("B", gone)
	h.registry.Join("B", stays)

	// Given one of B's connections left before the send
	h.life.OnDisconnect(gone)

	_, err := h.relay.Send(context.Background(), newFakeConn(), "A", "B", "hello")
	req.NoError(err)

	req.Eventually(func() bool { return len(pushed(stays)) == 1 }, time.Second, 5*time.Millisecond)
	req.Empty(gone.events())
}

func TestMessaging_Disconnect_Mid_Flight(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	for i := 0; i < 20; i++ {
		conn := newFakeConn()
		recipient := domain.UserID(fmt.Sprintf("B%d", i))
		h.registry.Join(recipient, conn)

		// When the only connection closes while a message is in flight
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.relay.Send(context.Background(), newFakeConn(), "A", recipient, "last words")
			req.NoError(err)
		}()
		go func() {
			defer wg.Done()
			conn.close()
			h.life.OnDisconnect(conn)
		}()
		wg.Wait()

		// Then at most one push got through, and the message is persisted either way
		req.LessOrEqual(len(pushed(conn)), 1)
		messages := history(t, h, recipient, "A")
		req.Len(messages, 1)
		req.False(h.registry.IsOnline(recipient))
	}
}
