package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"ringside/contract"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/errors"
)

// Loader delivers the thread between two users to the requesting connection only.
// It is a point-in-time snapshot, live messages come through the Relay.
type Loader struct {
	log          *slog.Logger
	store        contract.MessageStore
	historyLimit int
}

// NewLoader keeps only the most recent historyLimit messages when historyLimit > 0.
func NewLoader(log *slog.Logger, store contract.MessageStore, historyLimit int) *Loader {
	return &Loader{log: log, store: store, historyLimit: historyLimit}
}

func (l *Loader) LoadHistory(ctx context.Context, requester contract.Connection, a, b domain.UserID) error {
	if a.IsZero() || b.IsZero() {
		return fmt.Errorf("%w: both users are required", errors.ErrMalformedPayload)
	}

	messages, err := l.store.FetchThread(ctx, a, b)
	if err != nil {
		l.log.Error("Failed to load conversation", "connection", requester.ID(), "user_a", a, "user_b", b, "error", err)
		return err
	}

	if l.historyLimit > 0 && len(messages) > l.historyLimit {
		messages = messages[len(messages)-l.historyLimit:]
	}

	if err := requester.Consume(ctx, event.NewMessageHistory(messages)); err != nil {
		l.log.Warn("History not delivered", "connection", requester.ID(), "error", err)
		return err
	}
	return nil
}
