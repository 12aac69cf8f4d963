// Package health exposes the gateway's readiness over the standard gRPC
// health protocol. Serving status follows a periodic Redis ping.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name probes query for the payment gateway.
const Service = "socialbet.arena.Gateway"

// Pinger is satisfied by a *redis.Client via PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Monitor owns the gRPC health server and keeps it in sync with the
// dependency it watches.
type Monitor struct {
	srv      *health.Server
	pinger   Pinger
	interval time.Duration
	log      *zap.Logger
}

func NewMonitor(p Pinger, interval time.Duration, log *zap.Logger) *Monitor {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Monitor{srv: srv, pinger: p, interval: interval, log: log}
}

// Server returns the health service implementation.
func (m *Monitor) Server() healthpb.HealthServer { return m.srv }

// Check pings once and updates the serving status.
func (m *Monitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := m.pinger.Ping(pctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		m.log.Warn("health: dependency ping failed", zap.Error(err))
	}
	m.srv.SetServingStatus("", status)
	m.srv.SetServingStatus(Service, status)
	return status
}

// Run checks on every tick until ctx is done, then marks everything as
// not serving.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		}
	}
}

// Serve registers the health service on a new gRPC server listening on
// port. The caller stops the returned server.
func (m *Monitor) Serve(port int) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("health: listen: %w", err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, m.srv)
	go func() {
		if err := gs.Serve(lis); err != nil {
			m.log.Error("health: grpc serve", zap.Error(err))
		}
	}()
	return gs, nil
}
