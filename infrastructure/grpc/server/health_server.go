package server

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name probes use to ask about the messaging core specifically.
const ServiceName = "ringside.messaging"

// HealthServer exposes the standard gRPC health protocol for orchestrators and load balancers.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{log: log, server: s, health: h}
}

// Serve marks the process SERVING and blocks until the server stops.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	h.log.Info("Starting gRPC health server", "address", lis.Addr().String())
	if err := h.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Drain flips every service to NOT_SERVING so probes stop routing here.
func (h *HealthServer) Drain() {
	h.health.Shutdown()
}

func (h *HealthServer) Stop() {
	h.Drain()
	h.server.GracefulStop()
}
