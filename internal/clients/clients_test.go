package clients

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pribylovaa/auth-session/internal/signer"
)

func TestNewHTTPClient_DecoratesRequests(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hc := NewHTTPClient(HTTPOptions{UserAgent: "auth-session", Timeout: time.Second})

	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, "auth-session", got.Get("User-Agent"))
	_, err = uuid.Parse(got.Get("X-Request-Id"))
	require.NoError(t, err)
}

func TestDialGRPC_EmptyAddr(t *testing.T) {
	t.Parallel()

	_, err := DialGRPC("", GRPCOptions{})
	require.Error(t, err)
}

// Сквозной вызов через bufconn: интерсепторы подписывают вызов токеном из источника.
func TestDialOptions_SignsUnaryCalls(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 20)

	var md metadata.MD
	srv := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		md, _ = metadata.FromIncomingContext(ctx)
		return h(ctx, req)
	}))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	opts := DialOptions(GRPCOptions{
		UserAgent: "auth-session",
		Timeout:   time.Second,
		Tokens:    signer.TokenSourceFunc(func() string { return "A1" }),
	})
	opts = append(opts,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	require.Equal(t, []string{"Bearer A1"}, md.Get("authorization"))
	require.NotEmpty(t, md.Get("x-request-id"))
}
