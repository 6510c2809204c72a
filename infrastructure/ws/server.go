package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"ringside/contract"
	"ringside/services"
	"ringside/sink"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Options struct {
	ConnectionBufferSize int
	ReadLimit            int64
	PongWait             time.Duration
	WriteWait            time.Duration
	EventsPerSecond      float64
	EventBurst           int
	AllowedOrigins       []string
}

// Server upgrades HTTP requests to sockets and keeps track of open sessions
// so that shutdown closes them through the same path as a client disconnect.
type Server struct {
	mu       sync.Mutex
	sessions map[contract.ConnectionID]*Session
	log      *slog.Logger
	service  services.IMessagingService
	registry contract.IRegistry
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(log *slog.Logger, service services.IMessagingService, registry contract.IRegistry, opts Options) *Server {
	s := &Server{
		sessions: make(map[contract.ConnectionID]*Session),
		log:      log,
		service:  service,
		registry: registry,
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.ServeWS).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	return router
}

// checkOrigin accepts requests without Origin (non-browser clients) and any origin when "*" is allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || lo.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade refused", "remote", r.RemoteAddr, "error", err)
		return
	}

	out := sink.NewSocketSink(contract.ConnectionID(uuid.NewString()), s.opts.ConnectionBufferSize)
	session := newSession(conn, out, s.service, s.log, s.opts, s.forget)

	s.mu.Lock()
	s.sessions[out.ID()] = session
	s.mu.Unlock()

	s.log.Debug("Connection opened", "connection", out.ID(), "remote", r.RemoteAddr)
	go session.writePump()
	go session.readPump()
}

func (s *Server) forget(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.sink.ID())
}

// CloseAll closes every open session. Each one leaves presence on the way out.
func (s *Server) CloseAll() {
	s.mu.Lock()
	sessions := lo.Values(s.sessions)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	s.log.Info("All sessions closed", "count", len(sessions))
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type healthResponse struct {
	Status      string `json:"status"`
	OnlineUsers int    `json:"online_users"`
	Connections int    `json:"connections"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		OnlineUsers: s.registry.UserCount(),
		Connections: s.registry.ConnectionCount(),
	})
}
