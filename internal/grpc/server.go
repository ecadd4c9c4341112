package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "trophythreads.checkout"

// CheckFunc checks one dependency, e.g. the database or Redis.
type CheckFunc func(ctx context.Context) error

// Server is the admin transport: standard gRPC health checking backed by
// dependency checks, plus reflection for grpcurl/grpcui.
type Server struct {
	server *grpc.Server
	health *health.Server
	checks map[string]CheckFunc
}

func NewServer(checks map[string]CheckFunc) *Server {
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	return &Server{
		server: grpcServer,
		health: healthServer,
		checks: checks,
	}
}

func (s *Server) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// RefreshHealth runs every check once. The service is SERVING only when all
// of them pass.
func (s *Server) RefreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// WatchHealth refreshes health every interval until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refreshWithTimeout(ctx, interval)
	for {
		select {
		case <-ticker.C:
			s.refreshWithTimeout(ctx, interval)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) refreshWithTimeout(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.RefreshHealth(ctx)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
