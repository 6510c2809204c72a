package runtime

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"ringside/contract"
	"ringside/domain"
	"ringside/errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// sendStripes bounds the number of recipient locks.
const sendStripes = 64

// Relay persists a direct message then fans it out to the recipient's live connections.
// It never pushes back to the sender: clients echo their own messages locally.
//
// The store call runs without any lock. Once it returns, the send takes the recipient's
// stripe lock for the presence snapshot and the shard enqueue only, so the recipient's
// connections are pushed messages in the order their persistence completed.
type Relay struct {
	stripes       [sendStripes]sync.Mutex
	log           *slog.Logger
	store         contract.MessageStore
	dispatcher    contract.Dispatcher
	validate      *validator.Validate
	maxBodyLength int
}

func NewRelay(log *slog.Logger, store contract.MessageStore, dispatcher contract.Dispatcher, maxBodyLength int) *Relay {
	return &Relay{
		log:           log,
		store:         store,
		dispatcher:    dispatcher,
		validate:      validator.New(),
		maxBodyLength: maxBodyLength,
	}
}

// Send returns the persisted message. Whatever the error, nothing is reported to the client.
// When persistence fails no fan-out happens.
func (r *Relay) Send(ctx context.Context, from contract.Connection, sender, recipient domain.UserID, body string) (domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		r.log.Debug("Empty message dropped", "connection", from.ID(), "sender", sender)
		return domain.Message{}, errors.ErrEmptyBody
	}
	if err := r.check(sender, recipient, body); err != nil {
		r.log.Debug("Malformed message dropped", "connection", from.ID(), "error", err)
		return domain.Message{}, err
	}

	msg, err := r.store.Insert(ctx, sender, recipient, body)
	if err != nil {
		r.log.Error("Failed to persist message", "sender", sender, "recipient", recipient, "error", err)
		return domain.Message{}, err
	}

	if err := r.dispatch(ctx, msg); err != nil {
		// The message is durable, the recipient will see it on the next history load
		r.log.Warn("Fan-out aborted", "message_id", msg.ID, "recipient", recipient, "error", err)
	}
	return msg, nil
}

func (r *Relay) dispatch(ctx context.Context, msg domain.Message) error {
	lock := r.stripe(msg.RecipientID)
	lock.Lock()
	defer lock.Unlock()
	return r.dispatcher.Dispatch(ctx, msg)
}

func (r *Relay) stripe(recipient domain.UserID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipient))
	return &r.stripes[h.Sum32()%sendStripes]
}

func (r *Relay) check(sender, recipient domain.UserID, body string) error {
	if sender.IsZero() || recipient.IsZero() {
		return fmt.Errorf("%w: sender and recipient are required", errors.ErrMalformedPayload)
	}
	if r.maxBodyLength > 0 {
		if err := r.validate.Var(body, fmt.Sprintf("max=%d", r.maxBodyLength)); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
		}
	}
	return nil
}
