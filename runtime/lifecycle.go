package runtime

import (
	"log/slog"
	"ringside/contract"
)

// Lifecycle purges a closed connection from presence.
// The session guarantees OnDisconnect runs once per connection.
type Lifecycle struct {
	log      *slog.Logger
	registry contract.IRegistry
}

func NewLifecycle(log *slog.Logger, registry contract.IRegistry) *Lifecycle {
	return &Lifecycle{log: log, registry: registry}
}

func (l *Lifecycle) OnDisconnect(conn contract.Connection) {
	l.registry.Leave(conn)
	l.log.Debug("Connection left", "connection", conn.ID())
}
