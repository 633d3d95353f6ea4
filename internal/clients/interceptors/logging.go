package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
)

// ClientUnaryLoggingInterceptor пишет одну запись на исходящий unary-вызов.
// Логгер с request_id и method кладётся в контекст вызова.
// Тело и authorization в лог не попадают.
func ClientUnaryLoggingInterceptor(base *slog.Logger) grpc.UnaryClientInterceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		started := time.Now()

		ctx, rid := ensureRequestID(ctx)
		l := base.With(slog.String("request_id", rid), slog.String("method", method))

		err := invoker(logctx.Into(ctx, l), method, req, reply, cc, opts...)

		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK && code != codes.Unauthenticated {
			level = slog.LevelWarn
		}

		l.Log(ctx, level, "grpc",
			slog.String("code", code.String()),
			slog.Duration("dur", time.Since(started)),
		)

		return err
	}
}

// ensureRequestID возвращает x-request-id из исходящих metadata,
// при отсутствии генерирует новый и добавляет его в контекст.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if v := md.Get(mdRequestID); len(v) > 0 && v[0] != "" {
			return ctx, v[0]
		}
	}

	rid := uuid.NewString()
	return metadata.AppendToOutgoingContext(ctx, mdRequestID, rid), rid
}
