package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"ringside/auth"
	"ringside/contract"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/repositories"
	"ringside/runtime"
	"ringside/runtime/workers"
	"ringside/services"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	ws       *Server
	http     *httptest.Server
	registry *runtime.Registry
	store    contract.MessageStore
}

func testOptions() Options {
	return Options{
		ConnectionBufferSize: 16,
		ReadLimit:            8 * 1024,
		PongWait:             time.Minute,
		WriteWait:            time.Second,
		EventsPerSecond:      1000,
		EventBurst:           1000,
		AllowedOrigins:       []string{"https://app.example"},
	}
}

func newTestServer(t *testing.T, tokens *auth.TokenManager) testServer {
	t.Helper()
	return newTestServerWithStore(t, tokens, nil)
}

// newTestServerWithStore lets wrap decorate the badger store seen by the service.
func newTestServerWithStore(t *testing.T, tokens *auth.TokenManager, wrap func(contract.MessageStore) contract.MessageStore) testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store, err := repositories.NewBadgerMessageStore(db, log)
	require.NoError(t, err)

	registry := runtime.NewRegistry()
	dispatcher := workers.NewDispatcher(log, registry, 2, 16, time.Second)
	supervisor := workers.NewSupervisor(log, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Add(dispatcher.Workers()...).Run(ctx)
		close(done)
	}()

	var served contract.MessageStore = store
	if wrap != nil {
		served = wrap(store)
	}
	service := services.NewMessagingService(log, registry,
		runtime.NewLoader(log, served, 0),
		runtime.NewRelay(log, served, dispatcher, 1000),
		runtime.NewLifecycle(log, registry),
		tokens)
	server := NewServer(log, service, registry, testOptions())
	httpServer := httptest.NewServer(server.Router())

	t.Cleanup(func() {
		server.CloseAll()
		httpServer.Close()
		cancel()
		<-done
		_ = store.Close()
	})
	return testServer{ws: server, http: httpServer, registry: registry, store: store}
}

func (ts testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(event.Envelope{Event: name, Data: raw}))
}

// next reads frames until one named name arrives.
func next(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var envelope event.Envelope
		require.NoError(t, conn.ReadJSON(&envelope))
		if envelope.Event == name {
			return envelope.Data
		}
	}
}

func TestServer_End_To_End(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	h1, h2, h3 := ts.dial(t), ts.dial(t), ts.dial(t)

	// Given A joins with h1 and B joins with h2 and h3
	send(t, h1, event.NameJoin, "A")
	send(t, h2, event.NameJoin, "B")
	send(t, h3, event.NameJoin, map[string]any{"userId": "B"})
	req.Eventually(func() bool { return ts.registry.ConnectionCount() == 3 }, time.Second, 5*time.Millisecond)

	// When A sends "hello" to B
	send(t, h1, event.NamePrivateMessage, map[string]any{"recipientId": "B", "message": "hello", "senderId": "A"})

	// Then h2 and h3 each receive it
	for _, conn := range []*websocket.Conn{h2, h3} {
		var pm event.PrivateMessage
		req.NoError(json.Unmarshal(next(t, conn, event.NamePrivateMessage), &pm))
		req.Equal("hello", pm.Message)
		req.Equal(domain.UserID("A"), pm.SenderID)
		req.NotZero(pm.ID)
	}

	// And B loading the thread gets it as sole entry, on the requesting connection
	send(t, h2, event.NameLoadMessages, map[string]any{"userId": "B", "recipientId": "A"})
	var messages []domain.Message
	req.NoError(json.Unmarshal(next(t, h2, event.NameMessageHistory), &messages))
	req.Len(messages, 1)
	req.Equal("hello", messages[0].Body)
	req.Equal(domain.UserID("A"), messages[0].SenderID)
}

func TestServer_Numeric_User_Ids(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	alice, bob := ts.dial(t), ts.dial(t)

	send(t, alice, event.NameJoin, 1)
	send(t, bob, event.NameJoin, 2)
	req.Eventually(func() bool { return ts.registry.IsOnline("2") }, time.Second, 5*time.Millisecond)

	send(t, alice, event.NamePrivateMessage, map[string]any{"recipientId": 2, "message": "hi", "senderId": 1})

	var pm event.PrivateMessage
	req.NoError(json.Unmarshal(next(t, bob, event.NamePrivateMessage), &pm))
	req.Equal(domain.UserID("1"), pm.SenderID)
}

func TestServer_Events_Before_Join_Are_Dropped(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	stranger, bob := ts.dial(t), ts.dial(t)
	send(t, bob, event.NameJoin, "B")
	req.Eventually(func() bool { return ts.registry.IsOnline("B") }, time.Second, 5*time.Millisecond)

	// When an unjoined connection tries to send and load
	send(t, stranger, event.NamePrivateMessage, map[string]any{"recipientId": "B", "message": "spam", "senderId": "X"})
	send(t, stranger, event.NameLoadMessages, map[string]any{"userId": "X", "recipientId": "B"})

	// Then after joining, the earlier events had no effect
	send(t, stranger, event.NameJoin, "X")
	send(t, stranger, event.NameLoadMessages, map[string]any{"userId": "X", "recipientId": "B"})
	var messages []domain.Message
	req.NoError(json.Unmarshal(next(t, stranger, event.NameMessageHistory), &messages))
	req.Empty(messages)
}

func TestServer_Malformed_And_Empty_Messages_Are_Dropped(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	alice := ts.dial(t)
	send(t, alice, event.NameJoin, "A")

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, alice, event.NamePrivateMessage, map[string]any{"recipientId": "B", "message": "   ", "senderId": "A"})
	send(t, alice, event.NamePrivateMessage, map[string]any{"message": "no recipient", "senderId": "A"})
	send(t, alice, "unknown-event", map[string]any{})

	// Then the connection stays usable and nothing was stored
	send(t, alice, event.NameLoadMessages, map[string]any{"userId": "A", "recipientId": "B"})
	var messages []domain.Message
	req.NoError(json.Unmarshal(next(t, alice, event.NameMessageHistory), &messages))
	req.Empty(messages)
}

func TestServer_Disconnect_Cleans_Presence(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	phone, laptop := ts.dial(t), ts.dial(t)
	send(t, phone, event.NameJoin, "B")
	send(t, laptop, event.NameJoin, "B")
	req.Eventually(func() bool { return ts.registry.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	// When one device drops the socket and the other sends disconnect
	req.NoError(phone.Close())
	send(t, laptop, event.NameDisconnect, nil)

	// Then B has no entry left
	req.Eventually(func() bool { return !ts.registry.IsOnline("B") }, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return ts.ws.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_CloseAll_Cleans_Presence(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	send(t, conn, event.NameJoin, "A")
	req.Eventually(func() bool { return ts.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)

	ts.ws.CloseAll()

	req.False(ts.registry.IsOnline("A"))
	req.Zero(ts.ws.SessionCount())
}

func TestServer_Join_Requires_Token_When_Enabled(t *testing.T) {
	req := require.New(t)
	tokens := auth.NewTokenManager("secret")
	ts := newTestServer(t, tokens)
	token, err := tokens.GenerateToken("A", time.Minute)
	req.NoError(err)

	// Given one join without token and one with a valid token
	impostor, alice := ts.dial(t), ts.dial(t)
	send(t, impostor, event.NameJoin, "A")
	send(t, alice, event.NameJoin, map[string]any{"userId": "A", "token": token})

	// Then only the verified connection is registered
	req.Eventually(func() bool { return ts.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)
	req.Never(func() bool { return ts.registry.ConnectionCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestServer_Rejects_Unknown_Origin(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example"}})
	req.NoError(err)
	_ = conn.Close()
}

func TestServer_Health(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.http.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()

	var health healthResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&health))
	req.Equal("ok", health.Status)
	req.Zero(health.OnlineUsers)
}

// gatedStore holds every insert until release is closed.
type gatedStore struct {
	contract.MessageStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Insert(ctx context.Context, sender, recipient domain.UserID, body string) (domain.Message, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return g.MessageStore.Insert(ctx, sender, recipient, body)
}

func TestServer_Send_Survives_Sender_Close(t *testing.T) {
	req := require.New(t)
	gate := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	ts := newTestServerWithStore(t, nil, func(store contract.MessageStore) contract.MessageStore {
		gate.MessageStore = store
		return gate
	})

	// Given alice's message is waiting on the store
	alice := ts.dial(t)
	send(t, alice, event.NameJoin, "alice")
	send(t, alice, event.NamePrivateMessage, event.PrivateMessagePayload{RecipientID: "bob", Message: "sent before the drop", SenderID: "alice"})
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		req.Fail("insert never reached the store")
	}

	// When her session closes before the store answers
	ts.ws.CloseAll()
	close(gate.release)

	// Then the message is persisted anyway
	req.Eventually(func() bool {
		messages, err := ts.store.FetchThread(context.Background(), "alice", "bob")
		return err == nil && len(messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_Join_After_Close_Is_Dropped(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t, nil)
	ts.dial(t)

	var session *Session
	req.Eventually(func() bool {
		ts.ws.mu.Lock()
		defer ts.ws.mu.Unlock()
		for _, s := range ts.ws.sessions {
			session = s
		}
		return session != nil
	}, 2*time.Second, 5*time.Millisecond)

	// Given the session was closed by the server
	session.Close()

	// When a join frame read just before the close is handled
	keepReading := session.handle([]byte(`{"event":"join","data":"ghost"}`))

	// Then the session stays closed and presence stays empty
	req.False(keepReading)
	req.Equal(Closed, session.State())
	req.False(ts.registry.IsOnline("ghost"))
	req.Zero(ts.registry.ConnectionCount())
}
