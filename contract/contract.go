//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"ringside/domain"
	"ringside/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself, the supervisor does.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ConnectionID uniquely identifies one open bidirectional channel.
type ConnectionID string

type EventSink interface {
	Consume(ctx context.Context, e event.Outbound) error
}

// Connection is the handle the registry refers to. It is owned by the transport:
// nothing outside the transport closes it.
type Connection interface {
	ID() ConnectionID
	EventSink
}

type IRegistry interface {
	Join(user domain.UserID, conn Connection)
	Leave(conn Connection)
	ConnectionsFor(user domain.UserID) []Connection
	UserCount() int
	ConnectionCount() int
}

// MessageStore is the durable, append-only message table.
type MessageStore interface {
	Insert(ctx context.Context, sender, recipient domain.UserID, body string) (domain.Message, error)
	FetchThread(ctx context.Context, a, b domain.UserID) ([]domain.Message, error)
	Close() error
}

// Dispatcher fans persisted messages out to live connections.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.Message) error
}
