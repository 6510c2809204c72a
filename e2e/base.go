package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"ringside/auth"
	"ringside/domain"
	"ringside/domain/event"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const readTimeout = 5 * time.Second

type BaseSocketSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips when no server is targeted.
func (s *BaseSocketSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.WSURL == "" {
		s.T().Skip("RINGSIDE_WS_URL is not set")
	}
}

func (s *BaseSocketSuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Peer is one socket connection joined as User.
type Peer struct {
	s    *BaseSocketSuite
	User domain.UserID
	conn *websocket.Conn
}

// Connect dials the server and joins as user, signing a token when a secret is configured.
func (s *BaseSocketSuite) Connect(name string, user domain.UserID) *Peer {
	s.header(s.T(), name)
	conn, _, err := websocket.DefaultDialer.Dial(s.Config.WSURL, nil)
	s.Require().NoError(err, "Failed to connect to "+s.Config.WSURL)

	peer := &Peer{s: s, User: user, conn: conn}
	join := event.JoinPayload{UserID: user}
	if s.Config.TokenSecret != "" {
		join.Token, err = auth.NewTokenManager(s.Config.TokenSecret).GenerateToken(user, time.Minute)
		s.Require().NoError(err)
	}
	peer.Send(event.NameJoin, join)
	return peer
}

func (p *Peer) Send(name string, payload any) {
	data, err := json.Marshal(payload)
	p.s.Require().NoError(err)
	frame, err := json.Marshal(event.Envelope{Event: name, Data: data})
	p.s.Require().NoError(err)
	if p.s.Config.DebugJSON {
		p.s.T().Logf("%s >> %s", p.User, frame)
	}
	p.s.Require().NoError(p.conn.WriteMessage(websocket.TextMessage, frame))
}

// Next reads frames until one named name arrives.
func (p *Peer) Next(name string) json.RawMessage {
	for {
		p.s.Require().NoError(p.conn.SetReadDeadline(time.Now().Add(readTimeout)))
		_, frame, err := p.conn.ReadMessage()
		p.s.Require().NoError(err, "waiting for "+name)
		if p.s.Config.DebugJSON {
			p.s.T().Logf("%s << %s", p.User, frame)
		}
		var envelope event.Envelope
		p.s.Require().NoError(json.Unmarshal(frame, &envelope))
		if envelope.Event == name {
			return envelope.Data
		}
	}
}

// Silent asserts nothing arrives within d. The connection cannot be read afterwards.
func (p *Peer) Silent(d time.Duration) {
	p.s.Require().NoError(p.conn.SetReadDeadline(time.Now().Add(d)))
	_, frame, err := p.conn.ReadMessage()
	p.s.Require().Error(err, "unexpected frame %s", frame)
}

func (p *Peer) Close() {
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = p.conn.Close()
}

// WithHealth provides a gRPC health client within a contextual test step.
func (s *BaseSocketSuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	if s.Config.GrpcAddr == "" {
		s.T().Skip("RINGSIDE_GRPC_ADDR is not set")
	}
	s.header(s.T(), name)
	conn, err := grpc.NewClient(s.Config.GrpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)
			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))
			s.T().Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GrpcAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}
