package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"ringside/contract"
	"ringside/errors"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type StoreConfig struct {
	Driver         string
	BadgerFilepath string
	PostgresURL    string
	MongoURL       string
	MongoDatabase  string
}

// OpenMessageStore selects the backend named by cfg.Driver.
func OpenMessageStore(ctx context.Context, cfg StoreConfig, log *slog.Logger) (contract.MessageStore, error) {
	log.Info("Opening message store", "driver", cfg.Driver)
	switch cfg.Driver {
	case DriverBadger, "":
		return OpenBadgerMessageStore(cfg.BadgerFilepath, log)
	case DriverPostgres:
		return OpenPostgresMessageStore(ctx, cfg.PostgresURL, log)
	case DriverMongo:
		return OpenMongoMessageStore(ctx, cfg.MongoURL, cfg.MongoDatabase, log)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownStoreDriver, cfg.Driver)
	}
}
