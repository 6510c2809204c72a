package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"ringside/infrastructure/grpc/server"
	"ringside/infrastructure/ws"
	"ringside/runtime/workers"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// App holds the long-lived components started by run.
type App struct {
	Config     *Config
	Log        *slog.Logger
	Supervisor *workers.Supervisor
	Dispatcher *workers.Dispatcher
	Heartbeat  *workers.HeartbeatWorker
	WS         *ws.Server
	Health     *server.HealthServer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the servers lifecycle and centralizes error reporting.
// Returning instead of exiting lets every deferred cleanup (store close) run.
func run() error {
	// 1. Configuration
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Components
	app, cleanup, err := InitializeApp(ctx, &config)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer cleanup()
	log := app.Log

	// 4. Supervised workers
	// Signals do not stop them: in-flight sends still fan out while sessions close, shutdown stops them last.
	supervisorDone := make(chan struct{})
	app.Supervisor.Add(app.Dispatcher.Workers()...).Add(app.Heartbeat)
	go func() {
		app.Supervisor.Run(context.WithoutCancel(ctx))
		close(supervisorDone)
	}()

	// 5. Servers
	errChan := make(chan error, 2)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           app.WS.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Starting websocket server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		shutdown(app, httpServer, supervisorDone)
		return fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	go func() {
		if err := app.Health.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		log.Error("Server failure, shutting down", "error", err)
		shutdown(app, httpServer, supervisorDone)
		return err
	}

	shutdown(app, httpServer, supervisorDone)
	log.Info("Program stopped cleanly")
	return nil
}

// shutdown drains health first so probes stop routing, then closes sockets so every
// session leaves presence, then stops workers.
func shutdown(app *App, httpServer *http.Server, supervisorDone <-chan struct{}) {
	app.Health.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		app.Log.Warn("HTTP shutdown incomplete", "error", err)
	}
	app.WS.CloseAll()
	app.Health.Stop()

	app.Supervisor.Stop()
	select {
	case <-supervisorDone:
	case <-ctx.Done():
		app.Log.Warn("Workers did not stop in time")
	}
}
