// clients собирает транспорт исходящих запросов: HTTP-клиент с цепочкой
// декораторов и gRPC-коннект к апстриму с клиентскими интерсепторами.
package clients

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pribylovaa/auth-session/internal/clients/interceptors"
	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/signer"
)

// HTTPOptions - параметры HTTP-клиента.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
	Transport http.RoundTripper
}

// NewHTTPClient возвращает клиента с цепочкой: request id -> user-agent -> timeout -> logging.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	return &http.Client{
		Transport: interceptors.Chain(opts.Transport,
			interceptors.WithRequestID(),
			interceptors.WithUserAgent(opts.UserAgent),
			interceptors.WithTimeout(opts.Timeout),
			interceptors.WithLogging(opts.Logger),
		),
	}
}

// GRPCOptions - параметры gRPC-коннекта.
type GRPCOptions struct {
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
	Tokens    signer.TokenSource
	Renewer   interceptors.Renewer
	Metrics   *metrics.Metrics
}

// DialOptions - опции коннекта к gRPC-апстриму.
// Цепочка: refresh -> metadata -> timeout -> logging -> prometheus.
// Повтор после обновления проходит всю цепочку заново.
func DialOptions(opts GRPCOptions) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(
			interceptors.ClientWithRefresh(opts.Tokens, opts.Renewer, opts.Metrics),
			interceptors.ClientWithMetadata(opts.UserAgent, opts.Tokens),
			interceptors.ClientWithTimeout(opts.Timeout),
			interceptors.ClientUnaryLoggingInterceptor(opts.Logger),
			grpcprom.UnaryClientInterceptor,
		),
	}
}

// DialGRPC создаёт коннект к апстриму addr.
func DialGRPC(addr string, opts GRPCOptions) (*grpc.ClientConn, error) {
	const op = "clients/DialGRPC"

	if addr == "" {
		return nil, fmt.Errorf("%s: empty upstream addr", op)
	}

	conn, err := grpc.NewClient(addr, DialOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return conn, nil
}
