package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	googleGrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestServer_HealthStatus(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server := NewServer("storefront", zap.NewNop())

	go func() {
		_ = server.Serve(lis)
	}()
	defer server.Stop()

	conn, err := googleGrpc.NewClient(
		"passthrough:///bufnet",
		googleGrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		googleGrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Eventually(t, func() bool {
		res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "storefront"})
		return err == nil && res.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 20*time.Millisecond)

	server.health.Shutdown()

	res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "storefront"})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, res.GetStatus())
}
