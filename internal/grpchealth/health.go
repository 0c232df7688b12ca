// Package grpchealth reports service readiness over the standard gRPC health protocol.
package grpchealth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Checker runs readiness probes. It backs both /readyz and the gRPC health service.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Checker{checks: checks, timeout: timeout}
}

// Ready returns the first failing probe.
func (c *Checker) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, check := range c.checks {
		if err := check.Fn(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", check.Name, err)
		}
	}
	return nil
}

// Server mirrors Checker results into a grpc health server.
type Server struct {
	health  *health.Server
	checker *Checker
	service string
	logger  zerolog.Logger
	serving bool
}

func NewServer(checker *Checker, service string, logger *zerolog.Logger) *Server {
	s := &Server{
		health:  health.NewServer(),
		checker: checker,
		service: service,
		logger:  logger.With().Str("component", "grpc_health").Logger(),
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *Server) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh runs the probes once and publishes the result.
func (s *Server) Refresh(ctx context.Context) bool {
	err := s.checker.Ready(ctx)
	ok := err == nil
	if ok != s.serving {
		if ok {
			s.logger.Info().Msg("service is serving")
		} else {
			s.logger.Warn().Err(err).Msg("service is not serving")
		}
	}
	s.serving = ok
	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Watch refreshes the status every interval until ctx is done, then marks
// every service as not serving.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	if s.service != "" {
		s.health.SetServingStatus(s.service, status)
	}
}
