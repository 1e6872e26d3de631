package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(test *testing.T, checks map[string]Check) (*Server, healthpb.HealthClient) {
	test.Helper()
	listener := bufconn.Listen(1 << 20)
	server := NewServer(checks, nil)
	go func() {
		_ = server.Serve(listener)
	}()
	test.Cleanup(server.Stop)

	connection, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	test.Cleanup(func() { _ = connection.Close() })
	return server, healthpb.NewHealthClient(connection)
}

func queryStatus(test *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	test.Helper()
	response, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		test.Fatalf("check %q: %v", service, err)
	}
	return response.GetStatus()
}

func TestRefreshReportsEveryCheck(test *testing.T) {
	test.Parallel()
	chainDown := errors.New("rpc unreachable")
	chainErr := chainDown
	server, client := startHealthServer(test, map[string]Check{
		"store": func(context.Context) error { return nil },
		"chain": func(context.Context) error { return chainErr },
	})

	if status := queryStatus(test, client, ServiceName); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("expected NOT_SERVING before the first refresh, got %s", status)
	}
	if err := server.Refresh(context.Background()); !errors.Is(err, chainDown) {
		test.Fatalf("expected chain failure, got %v", err)
	}
	if status := queryStatus(test, client, "store"); status != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("store: %s", status)
	}
	if status := queryStatus(test, client, "chain"); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("chain: %s", status)
	}
	if status := queryStatus(test, client, ServiceName); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("overall: %s", status)
	}

	chainErr = nil
	if err := server.Refresh(context.Background()); err != nil {
		test.Fatalf("refresh: %v", err)
	}
	if status := queryStatus(test, client, ServiceName); status != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("overall after recovery: %s", status)
	}
}
