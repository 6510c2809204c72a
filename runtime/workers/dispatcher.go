package workers

import (
	"context"
	"hash/fnv"
	"log/slog"
	"ringside/contract"
	"ringside/domain"
	"ringside/domain/event"
	"time"
)

// delivery is a persisted message together with the recipient connections
// that were live when persistence completed.
type delivery struct {
	msg   domain.Message
	conns []contract.Connection
}

// Dispatcher fans persisted messages out to the recipient's live connections.
//
// Every recipient is pinned to one shard, and each shard is drained by a single
// DispatchWorker, so pushes to a given connection happen in the order messages
// were handed to Dispatch. Delivery is best effort: there is no retry and a
// connection that cannot take a push within sinkTimeout misses it.
type Dispatcher struct {
	log         *slog.Logger
	registry    contract.IRegistry
	shards      []chan delivery
	sinkTimeout time.Duration
}

func NewDispatcher(log *slog.Logger, registry contract.IRegistry, numWorkers, bufferSize int, sinkTimeout time.Duration) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	shards := make([]chan delivery, numWorkers)
	for i := range shards {
		shards[i] = make(chan delivery, bufferSize)
	}
	return &Dispatcher{log: log, registry: registry, shards: shards, sinkTimeout: sinkTimeout}
}

// Dispatch snapshots the recipient's presence and queues the message on its shard.
// An offline recipient is not an error: the message is already persisted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.Message) error {
	conns := d.registry.ConnectionsFor(msg.RecipientID)
	if len(conns) == 0 {
		d.log.Debug("Recipient offline, message kept for next history load",
			"recipient", msg.RecipientID, "message_id", msg.ID)
		return nil
	}
	select {
	case d.shards[d.shardFor(msg.RecipientID)] <- delivery{msg: msg, conns: conns}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shardFor(user domain.UserID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Workers returns one worker per shard, to be run by the supervisor.
func (d *Dispatcher) Workers() []contract.Worker {
	res := make([]contract.Worker, 0, len(d.shards))
	for i, shard := range d.shards {
		res = append(res, DispatchWorker{
			log:         d.log.With("shard", i),
			deliveries:  shard,
			sinkTimeout: d.sinkTimeout,
		})
	}
	return res
}

// DispatchWorker drains one shard and pushes each message to its connections, one at a time.
type DispatchWorker struct {
	log         *slog.Logger
	deliveries  <-chan delivery
	sinkTimeout time.Duration
}

func (w DispatchWorker) Run(ctx context.Context) error {
	for {
		select {
		case d := <-w.deliveries:
			w.Fanout(ctx, d.msg, d.conns)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping dispatch")
			return nil
		}
	}
}

// Fanout pushes msg to every connection. A slow or closed connection never blocks the next one
// for longer than sinkTimeout.
func (w DispatchWorker) Fanout(ctx context.Context, msg domain.Message, conns []contract.Connection) {
	evt := event.NewPrivateMessage(msg)
	for _, conn := range conns {
		pushCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := conn.Consume(pushCtx, evt); err != nil {
			w.log.Warn("Push dropped", "connection", conn.ID(), "message_id", msg.ID, "error", err)
		}
		cancel()
	}
}
