// Package healthsrv exposes the standard grpc.health.v1.Health service
// for the coordinator. Status follows the database: SERVING while the
// store answers pings, NOT_SERVING otherwise.
package healthsrv

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
)

// ServiceName is the per-service name reported next to the overall ("")
// status.
const ServiceName = "zorder.Coordinator"

const (
	defaultInterval = 10 * time.Second
	pingTimeout     = 3 * time.Second
)

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   store.Pinger
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	last    healthpb.HealthCheckResponse_ServingStatus
	stop    chan struct{}
	stopped bool
}

// New builds a health server. A nil pinger reports SERVING for as long
// as the process runs.
func New(p store.Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, hs)

	return &Server{
		grpc:     g,
		health:   hs,
		pinger:   p,
		interval: defaultInterval,
		logger:   logger,
		last:     healthpb.HealthCheckResponse_UNKNOWN,
		stop:     make(chan struct{}),
	}
}

// Check pings the store once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.pinger.Ping(pctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("health: database ping failed", "err", err)
		}
	}

	s.mu.Lock()
	changed := status != s.last
	s.last = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("health status", "status", status.String())
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve runs an initial check, starts the periodic checker and blocks
// serving gRPC on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.Check(context.Background())
	go s.loop()
	s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

func (s *Server) loop() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Check(context.Background())
		}
	}
}

// Stop marks every service NOT_SERVING and drains open streams.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	s.health.Shutdown()
	s.grpc.GracefulStop()
}
