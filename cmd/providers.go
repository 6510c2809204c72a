package main

import (
	"context"
	"log/slog"
	"ringside/auth"
	"ringside/contract"
	"ringside/infrastructure/ws"
	"ringside/repositories"
	"ringside/runtime"
	"ringside/runtime/workers"

	"github.com/mama165/sdk-go/logs"
)

func provideLogger(cfg *Config) *slog.Logger {
	return logs.GetLoggerFromString(cfg.LogLevel)
}

func provideMessageStore(ctx context.Context, cfg *Config, log *slog.Logger) (contract.MessageStore, func(), error) {
	store, err := repositories.OpenMessageStore(ctx, repositories.StoreConfig{
		Driver:         cfg.StoreDriver,
		BadgerFilepath: cfg.BadgerFilepath,
		PostgresURL:    cfg.PostgresURL,
		MongoURL:       cfg.MongoURL,
		MongoDatabase:  cfg.MongoDatabase,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		log.Info("Closing message store...")
		if err := store.Close(); err != nil {
			log.Error("Failed to close message store", "error", err)
		}
	}
	return store, cleanup, nil
}

func provideSupervisor(cfg *Config, log *slog.Logger) *workers.Supervisor {
	return workers.NewSupervisor(log, cfg.RestartInterval)
}

func provideDispatcher(cfg *Config, log *slog.Logger, registry contract.IRegistry) *workers.Dispatcher {
	return workers.NewDispatcher(log, registry, cfg.NumberOfWorkers, cfg.DispatchBufferSize, cfg.SinkTimeout)
}

func provideHeartbeat(cfg *Config, log *slog.Logger, registry contract.IRegistry) *workers.HeartbeatWorker {
	return workers.NewHeartbeatWorker(log, registry, cfg.HeartbeatInterval)
}

func provideLoader(cfg *Config, log *slog.Logger, store contract.MessageStore) *runtime.Loader {
	return runtime.NewLoader(log, store, cfg.HistoryLimit)
}

func provideRelay(cfg *Config, log *slog.Logger, store contract.MessageStore, dispatcher contract.Dispatcher) *runtime.Relay {
	return runtime.NewRelay(log, store, dispatcher, cfg.MaxBodyLength)
}

// provideTokenManager returns nil when joins are trusted.
func provideTokenManager(cfg *Config) *auth.TokenManager {
	if !cfg.RequireToken {
		return nil
	}
	return auth.NewTokenManager(cfg.JWTSecret)
}

func provideWSOptions(cfg *Config) ws.Options {
	return ws.Options{
		ConnectionBufferSize: cfg.ConnectionBufferSize,
		ReadLimit:            cfg.ReadLimit,
		PongWait:             cfg.PongWait,
		WriteWait:            cfg.WriteWait,
		EventsPerSecond:      cfg.EventsPerSecond,
		EventBurst:           cfg.EventBurst,
		AllowedOrigins:       cfg.Origins(),
	}
}
