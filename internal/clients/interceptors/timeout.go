package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ClientWithTimeout навешивает таймаут d на исходящий gRPC-вызов,
// если у контекста ещё нет дедлайна. d <= 0 - вызов как есть.
// По истечении дедлайна invoker вернёт codes.DeadlineExceeded.
func ClientWithTimeout(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); d <= 0 || ok {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return invoker(cctx, method, req, reply, cc, opts...)
	}
}
