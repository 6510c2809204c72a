// Package event defines the socket protocol exchanged with clients.
// Every frame is an Envelope carrying an event name and its JSON payload.
package event

import (
	"encoding/json"
	"ringside/domain"
	"time"
)

const (
	NameJoin           = "join"
	NameLoadMessages   = "load-messages"
	NamePrivateMessage = "private-message"
	NameMessageHistory = "message-history"
	NameDisconnect     = "disconnect"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload accepts either a bare userId or {"userId": ..., "token": ...}.
type JoinPayload struct {
	UserID domain.UserID `json:"userId" validate:"required"`
	Token  string        `json:"token,omitempty"`
}

func (j *JoinPayload) UnmarshalJSON(b []byte) error {
	var id domain.UserID
	if err := json.Unmarshal(b, &id); err == nil {
		*j = JoinPayload{UserID: id}
		return nil
	}
	type plain JoinPayload
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*j = JoinPayload(p)
	return nil
}

type LoadMessagesPayload struct {
	UserID      domain.UserID `json:"userId" validate:"required"`
	RecipientID domain.UserID `json:"recipientId" validate:"required"`
}

type PrivateMessagePayload struct {
	RecipientID domain.UserID `json:"recipientId" validate:"required"`
	Message     string        `json:"message"`
	SenderID    domain.UserID `json:"senderId" validate:"required"`
}

// Outbound is any event pushed from the server to a connection.
type Outbound interface {
	Name() string
}

// PrivateMessage is pushed to every live connection of the recipient.
type PrivateMessage struct {
	ID        uint64        `json:"id"`
	Message   string        `json:"message"`
	SenderID  domain.UserID `json:"senderId"`
	Timestamp time.Time     `json:"timestamp"`
}

func (PrivateMessage) Name() string { return NamePrivateMessage }

func NewPrivateMessage(m domain.Message) PrivateMessage {
	return PrivateMessage{ID: m.ID, Message: m.Body, SenderID: m.SenderID, Timestamp: m.CreatedAt}
}

// MessageHistory is the ordered thread, sent only to the requesting connection.
type MessageHistory []domain.Message

func (MessageHistory) Name() string { return NameMessageHistory }

func NewMessageHistory(messages []domain.Message) MessageHistory {
	if messages == nil {
		return MessageHistory{}
	}
	return MessageHistory(messages)
}

// Encode wraps an outbound event into a JSON envelope frame.
func Encode(e Outbound) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name(), Data: data})
}
