package interceptors

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/models"
	"github.com/pribylovaa/auth-session/internal/signer"
)

// Renewer - координатор обновления (refresh.Coordinator).
type Renewer interface {
	Renew(ctx context.Context, stale string) (models.TokenPair, error)
}

// ClientWithRefresh подписывает вызов текущим токеном и, если апстрим ответил
// codes.Unauthenticated, один раз повторяет его с токеном, выданным координатором.
//
// Повтор ровно один: второй Unauthenticated возвращается как есть.
// Вызов без токена обновление не запускает.
// Ошибка обновления (в том числе завершённая сессия) возвращается вызывающему.
// Стоит первым в цепочке, чтобы повтор проходил через все остальные интерсепторы.
func ClientWithRefresh(src signer.TokenSource, r Renewer, m *metrics.Metrics) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		const op = "clients/interceptors/ClientWithRefresh"

		used := signer.TokenFromHeader(authorizationFrom(ctx))
		if used == "" && src != nil {
			used = src.AccessToken()
		}
		if used != "" {
			ctx = withAuthorization(ctx, used)
		}

		err := invoker(ctx, method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated || r == nil || used == "" {
			return err
		}

		pair, rerr := r.Renew(ctx, used)
		if rerr != nil {
			m.Replay(metrics.ResultSkipped)
			return fmt.Errorf("%s: %w", op, rerr)
		}

		err = invoker(withAuthorization(ctx, pair.Access), method, req, reply, cc, opts...)
		switch {
		case err == nil:
			m.Replay(metrics.ResultOK)
		case status.Code(err) == codes.Unauthenticated:
			m.Replay(metrics.ResultRejected)
		default:
			m.Replay(metrics.ResultError)
		}

		return err
	}
}
