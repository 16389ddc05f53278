package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

const bufSize = 1024 * 1024

func startBufServer(t *testing.T, r *Reporter) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := NewServer("bufnet", r)
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = lis.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, name string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
	if err != nil {
		t.Fatalf("Check(%q): %v", name, err)
	}
	return resp.GetStatus()
}

func TestReporter_FollowsLoopState(t *testing.T) {
	r := NewReporter()
	c := startBufServer(t, r)

	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v, want NOT_SERVING", got)
	}

	r.Observe(service.StateConnectedIdle)
	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("connected: %v", got)
	}

	r.Observe(service.StateProcessing)
	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("processing: %v", got)
	}

	r.Observe(service.StateDisconnected)
	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("disconnected: %v", got)
	}
}
