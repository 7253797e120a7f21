package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/metrics"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ReconcilerService is the service name reported by the gRPC health server
const ReconcilerService = "storeforge.Reconciler"

// DefaultSyncInterval is how often gRPC health follows component readiness
const DefaultSyncInterval = 5 * time.Second

// Server serves the standard gRPC health service
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewServer creates a gRPC server with the health service registered.
// Everything starts NOT_SERVING until SetServing or WatchReadiness flips it.
func NewServer() *Server {
	logger := log.WithComponent("api")
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(
				RecoveryInterceptor(logger),
				LoggingInterceptor(logger),
			),
		),
		health: health.NewServer(),
		logger: logger,
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// Start starts the gRPC server
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health service listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// SetServing sets the status of both the overall server and the reconciler service
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ReconcilerService, st)
}

// WatchReadiness mirrors component readiness into the health service until
// ctx is cancelled
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := metrics.Ready()
	s.SetServing(last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready := metrics.Ready()
			if ready != last {
				s.logger.Info().Bool("serving", ready).Msg("gRPC health status changed")
				last = ready
			}
			s.SetServing(ready)
		}
	}
}
