//go:build wireinject
// +build wireinject

package main

import (
	"context"
	"ringside/contract"
	"ringside/infrastructure/grpc/server"
	"ringside/infrastructure/ws"
	"ringside/runtime"
	"ringside/runtime/workers"
	"ringside/services"

	"github.com/google/wire"
)

// InitializeApp builds the whole process from its configuration.
func InitializeApp(ctx context.Context, cfg *Config) (*App, func(), error) {
	wire.Build(
		provideLogger,
		provideMessageStore,
		// Presence & fan-out
		wire.NewSet(
			runtime.NewRegistry,
			wire.Bind(new(contract.IRegistry), new(*runtime.Registry)),

			provideDispatcher,
			wire.Bind(new(contract.Dispatcher), new(*workers.Dispatcher)),

			provideSupervisor,
			provideHeartbeat,
		),
		// Core
		wire.NewSet(
			provideLoader,
			provideRelay,
			runtime.NewLifecycle,
			provideTokenManager,
			services.NewMessagingService,
			wire.Bind(new(services.IMessagingService), new(*services.MessagingService)),
		),
		// Transport
		provideWSOptions,
		ws.NewServer,
		server.NewHealthServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
