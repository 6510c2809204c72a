package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"ringside/domain"
	"ringside/domain/event"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL string `env:"RINGSIDE_SERVER_URL,default=ws://localhost:8080/ws"`
	UserID    string `env:"RINGSIDE_USER_ID,required=true"`
	PeerID    string `env:"RINGSIDE_PEER_ID,required=true"`
	Token     string `env:"RINGSIDE_TOKEN"`
	Colours   bool   `env:"RINGSIDE_COLOURS,default=true"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run joins as UserID, loads the thread with PeerID, then sends every stdin line to PeerID.
func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, config.ServerURL, http.Header{})
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerURL, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	user, peer := domain.UserID(config.UserID), domain.UserID(config.PeerID)
	if err := send(conn, event.NameJoin, event.JoinPayload{UserID: user, Token: config.Token}); err != nil {
		return exitRuntime, err
	}
	if err := send(conn, event.NameLoadMessages, event.LoadMessagesPayload{UserID: user, RecipientID: peer}); err != nil {
		return exitRuntime, err
	}
	log.Info("Connected", "server", config.ServerURL, "user", user, "peer", peer)

	out := newPrinter(config.Colours, user)
	readErr := make(chan error, 1)
	go func() { readErr <- readLoop(conn, out, log) }()

	lines := make(chan string)
	go scanStdin(lines)

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case err := <-readErr:
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("read error: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			payload := event.PrivateMessagePayload{RecipientID: peer, Message: line, SenderID: user}
			if err := send(conn, event.NamePrivateMessage, payload); err != nil {
				return exitRuntime, err
			}
		}
	}
}

func send(conn *websocket.Conn, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(event.Envelope{Event: name, Data: data})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}
	return nil
}

func scanStdin(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func readLoop(conn *websocket.Conn, p printer, log *slog.Logger) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope event.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Warn("Unreadable frame", "error", err)
			continue
		}
		switch envelope.Event {
		case event.NameMessageHistory:
			var history []domain.Message
			if err := json.Unmarshal(envelope.Data, &history); err != nil {
				log.Warn("Unreadable history", "error", err)
				continue
			}
			p.history(history)
		case event.NamePrivateMessage:
			var msg event.PrivateMessage
			if err := json.Unmarshal(envelope.Data, &msg); err != nil {
				log.Warn("Unreadable message", "error", err)
				continue
			}
			p.incoming(msg)
		default:
			log.Debug("Ignoring event", "event", envelope.Event)
		}
	}
}

type printer struct {
	colours bool
	self    domain.UserID
}

func newPrinter(colours bool, self domain.UserID) printer {
	return printer{colours: colours, self: self}
}

func (p printer) history(messages []domain.Message) {
	fmt.Println(p.paint(color.New(color.BgBlack, color.FgGreen), fmt.Sprintf("  ====== %d message(s) ======", len(messages))))
	for _, m := range messages {
		style := color.New(color.FgCyan)
		if m.SenderID == p.self {
			style = color.New(color.FgGray)
		}
		p.line(style, m.CreatedAt, m.SenderID, m.Body)
	}
}

func (p printer) incoming(msg event.PrivateMessage) {
	p.line(color.New(color.FgCyan, color.OpBold), msg.Timestamp, msg.SenderID, msg.Message)
}

func (p printer) line(style color.Style, at time.Time, sender domain.UserID, body string) {
	prefix := fmt.Sprintf("[%s] %s:", at.Local().Format(time.TimeOnly), sender)
	fmt.Println(p.paint(style, prefix), body)
}

func (p printer) paint(style color.Style, s string) string {
	if !p.colours {
		return s
	}
	return style.Render(s)
}
