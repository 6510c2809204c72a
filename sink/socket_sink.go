package sink

import (
	"context"
	"ringside/contract"
	"ringside/domain/event"
	"ringside/errors"
	"sync"
)

// SocketSink is the outbound queue of one live connection.
// Producers (loader, dispatch workers) push with Consume, the transport write
// pump drains Events. Close marks the connection gone: pushes are refused from
// then on and the queue is never closed under a concurrent producer.
type SocketSink struct {
	id     contract.ConnectionID
	events chan event.Outbound
	done   chan struct{}
	once   sync.Once
}

func NewSocketSink(id contract.ConnectionID, bufferSize int) *SocketSink {
	return &SocketSink{
		id:     id,
		events: make(chan event.Outbound, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *SocketSink) ID() contract.ConnectionID { return s.id }

// Consume enqueues e, blocking until there is room, the sink closes or ctx ends.
func (s *SocketSink) Consume(ctx context.Context, e event.Outbound) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SocketSink) Events() <-chan event.Outbound { return s.events }

func (s *SocketSink) Done() <-chan struct{} { return s.done }

// Close is safe to call more than once.
func (s *SocketSink) Close() {
	s.once.Do(func() { close(s.done) })
}
