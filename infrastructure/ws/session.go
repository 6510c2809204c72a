package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/errors"
	"ringside/services"
	"ringside/sink"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type State int

const (
	Unjoined State = iota
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joined:
		return "joined"
	default:
		return "closed"
	}
}

// Session is one live socket. Its sink is the handle registered in presence.
// Events are handled one at a time on the read goroutine, outbound frames are
// written by the write goroutine only.
type Session struct {
	mu        sync.Mutex
	state     State
	user      domain.UserID
	conn      *websocket.Conn
	sink      *sink.SocketSink
	service   services.IMessagingService
	limiter   *rate.Limiter
	log       *slog.Logger
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	onClose   func(*Session)
}

func newSession(conn *websocket.Conn, out *sink.SocketSink, service services.IMessagingService, log *slog.Logger, opts Options, onClose func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		state:   Unjoined,
		conn:    conn,
		sink:    out,
		service: service,
		limiter: newLimiter(opts.EventsPerSecond, opts.EventBurst),
		log:     log.With("connection", out.ID()),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
	}
}

func newLimiter(eventsPerSecond float64, burst int) *rate.Limiter {
	if eventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(eventsPerSecond), max(burst, 1))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) User() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Close moves the session to Closed and runs the presence cleanup exactly once,
// whoever triggers it first: client close, network error or server shutdown.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()

		s.service.Disconnect(s.sink)
		s.sink.Close()
		s.cancel()
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.log.Debug("Session closed")
	})
}

func (s *Session) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(s.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Connection lost", "error", err)
			}
			return
		}
		if !s.limiter.Allow() {
			s.log.Debug("Event dropped, rate limit reached")
			continue
		}
		if !s.handle(data) {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case evt := <-s.sink.Events():
			frame, err := event.Encode(evt)
			if err != nil {
				s.log.Error("Failed to encode event", "event", evt.Name(), "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.sink.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

// handle dispatches one inbound frame. It returns false when the client asked to disconnect.
// Failures are logged and never reported back to the client.
func (s *Session) handle(data []byte) bool {
	var envelope event.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.log.Debug("Malformed frame dropped", "error", err)
		return true
	}

	switch envelope.Event {
	case event.NameJoin:
		var payload event.JoinPayload
		if !s.decode(envelope, &payload) {
			return true
		}
		return s.join(payload)

	case event.NameLoadMessages:
		user, ok := s.joined(envelope.Event)
		var payload event.LoadMessagesPayload
		if !ok || !s.decode(envelope, &payload) {
			return true
		}
		if err := s.service.LoadHistory(s.ctx, s.sink, user, payload); err != nil {
			s.log.Warn("History not loaded", "error", err)
		}

	case event.NamePrivateMessage:
		user, ok := s.joined(envelope.Event)
		var payload event.PrivateMessagePayload
		if !ok || !s.decode(envelope, &payload) {
			return true
		}
		// The sender's socket going away must not abort the persist or the fan-out
		if err := s.service.Send(context.WithoutCancel(s.ctx), s.sink, user, payload); err != nil {
			s.log.Warn("Message not sent", "error", err)
		}

	case event.NameDisconnect:
		return false

	default:
		s.log.Debug("Unknown event dropped", "event", envelope.Event)
	}
	return true
}

// join registers the session under s.mu, the lock Close takes to enter Closed, so a
// closed session is never put back into presence.
func (s *Session) join(payload event.JoinPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		s.log.Debug("Join dropped, session closed", "user", payload.UserID)
		return false
	}
	user, err := s.service.Join(s.sink, payload)
	if err != nil {
		s.log.Warn("Join refused", "user", payload.UserID, "error", err)
		return true
	}
	s.user, s.state = user, Joined
	return true
}

func (s *Session) joined(name string) (domain.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Joined {
		s.log.Debug("Event dropped", "event", name, "error", errors.ErrNotJoined)
		return "", false
	}
	return s.user, true
}

func (s *Session) decode(envelope event.Envelope, payload any) bool {
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		s.log.Debug("Malformed payload dropped", "event", envelope.Event, "error", err)
		return false
	}
	return true
}
