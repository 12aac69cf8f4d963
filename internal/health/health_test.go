package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestMonitor_StartsNotServing(t *testing.T) {
	m := NewMonitor(PingFunc(func(context.Context) error { return nil }), time.Second, zap.NewNop())
	if got := status(t, m, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("got %s want NOT_SERVING", got)
	}
}

func TestMonitor_FollowsPing(t *testing.T) {
	var fail atomic.Bool
	m := NewMonitor(PingFunc(func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}), time.Second, zap.NewNop())

	m.Check(context.Background())
	if got := status(t, m, Service); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("healthy: got %s", got)
	}
	if got := status(t, m, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall: got %s", got)
	}

	fail.Store(true)
	m.Check(context.Background())
	if got := status(t, m, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("failing: got %s", got)
	}
}

func TestMonitor_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewMonitor(PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}), time.Second, zap.NewNop())

	if got := m.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("redis up: got %s", got)
	}
	mr.Close()
	if got := m.Check(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("redis down: got %s", got)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(PingFunc(func(context.Context) error { return nil }), 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for status(t, m, Service) != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("never became SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if got := status(t, m, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after shutdown: got %s", got)
	}
}
