// Package health serves the standard gRPC health protocol for wagerd and its dependencies.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name clients query for overall readiness.
const ServiceName = "wager.v1.Settlement"

const defaultCheckTimeout = 5 * time.Second

// Check probes one dependency; a nil error means healthy.
type Check func(ctx context.Context) error

// Server owns a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *grpchealth.Server
	checks       map[string]Check
	logger       *zap.Logger
	checkTimeout time.Duration
}

// NewServer registers the health service. Every named check is reported as its own service and
// ServiceName is SERVING only while all checks pass.
func NewServer(checks map[string]Check, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	healthServer := grpchealth.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		checks:       checks,
		logger:       logger,
		checkTimeout: defaultCheckTimeout,
	}
}

// Refresh runs every check once and publishes the resulting statuses.
func (server *Server) Refresh(ctx context.Context) error {
	names := make([]string, 0, len(server.checks))
	for name := range server.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	var failures []error
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, server.checkTimeout)
		err := server.checks[name](checkCtx)
		cancel()
		if err != nil {
			server.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			server.healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			continue
		}
		server.healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if len(failures) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	server.healthServer.SetServingStatus(ServiceName, overall)
	return errors.Join(failures...)
}

// Watch refreshes statuses every interval until ctx ends.
func (server *Server) Watch(ctx context.Context, interval time.Duration) {
	_ = server.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = server.Refresh(ctx)
		}
	}
}

// Serve accepts connections on listener until Stop is called.
func (server *Server) Serve(listener net.Listener) error {
	if err := server.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains the gRPC server.
func (server *Server) Stop() {
	server.healthServer.Shutdown()
	server.grpcServer.GracefulStop()
}
