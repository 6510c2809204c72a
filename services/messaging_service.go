package services

import (
	"context"
	"log/slog"
	"ringside/auth"
	"ringside/contract"
	"ringside/domain"
	"ringside/domain/event"
	"ringside/errors"
	"ringside/runtime"
)

// IMessagingService is what the transport calls for each decoded event.
type IMessagingService interface {
	Join(conn contract.Connection, payload event.JoinPayload) (domain.UserID, error)
	LoadHistory(ctx context.Context, conn contract.Connection, joined domain.UserID, payload event.LoadMessagesPayload) error
	Send(ctx context.Context, conn contract.Connection, joined domain.UserID, payload event.PrivateMessagePayload) error
	Disconnect(conn contract.Connection)
}

// MessagingService is the single entry point of the direct-messaging core.
// When tokens is nil, identities in payloads are trusted as sent.
type MessagingService struct {
	log       *slog.Logger
	registry  contract.IRegistry
	loader    *runtime.Loader
	relay     *runtime.Relay
	lifecycle *runtime.Lifecycle
	tokens    *auth.TokenManager
}

func NewMessagingService(
	log *slog.Logger,
	registry contract.IRegistry,
	loader *runtime.Loader,
	relay *runtime.Relay,
	lifecycle *runtime.Lifecycle,
	tokens *auth.TokenManager,
) *MessagingService {
	return &MessagingService{
		log:       log,
		registry:  registry,
		loader:    loader,
		relay:     relay,
		lifecycle: lifecycle,
		tokens:    tokens,
	}
}

// Join registers conn under the payload's user and returns that identity.
func (s *MessagingService) Join(conn contract.Connection, payload event.JoinPayload) (domain.UserID, error) {
	if err := auth.ValidatePayload(payload); err != nil {
		return "", err
	}
	if s.tokens != nil {
		if err := s.tokens.VerifyJoin(payload.UserID, payload.Token); err != nil {
			return "", err
		}
	}
	s.registry.Join(payload.UserID, conn)
	s.log.Debug("Connection joined", "connection", conn.ID(), "user", payload.UserID)
	return payload.UserID, nil
}

func (s *MessagingService) LoadHistory(ctx context.Context, conn contract.Connection, joined domain.UserID, payload event.LoadMessagesPayload) error {
	if err := auth.ValidatePayload(payload); err != nil {
		return err
	}
	if err := s.checkIdentity(joined, payload.UserID); err != nil {
		return err
	}
	return s.loader.LoadHistory(ctx, conn, payload.UserID, payload.RecipientID)
}

func (s *MessagingService) Send(ctx context.Context, conn contract.Connection, joined domain.UserID, payload event.PrivateMessagePayload) error {
	if err := auth.ValidatePayload(payload); err != nil {
		return err
	}
	if err := s.checkIdentity(joined, payload.SenderID); err != nil {
		return err
	}
	_, err := s.relay.Send(ctx, conn, payload.SenderID, payload.RecipientID, payload.Message)
	return err
}

func (s *MessagingService) Disconnect(conn contract.Connection) {
	s.lifecycle.OnDisconnect(conn)
}

// checkIdentity only applies when joins are verified: a verified connection speaks for itself only.
func (s *MessagingService) checkIdentity(joined, claimed domain.UserID) error {
	if s.tokens == nil {
		return nil
	}
	if joined != claimed {
		return errors.ErrIdentityMismatch
	}
	return nil
}
