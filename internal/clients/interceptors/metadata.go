package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pribylovaa/auth-session/internal/signer"
)

const (
	mdRequestID     = "x-request-id"
	mdAuthorization = "authorization"
	mdUserAgent     = "user-agent"
)

// ClientWithMetadata добавляет в исходящий gRPC-вызов:
//   - x-request-id из CtxRequestID (если есть);
//   - authorization: Bearer <token> из src, если вызывающий не выставил свой;
//   - user-agent (если передан).
//
// Нет токена - вызов уходит без authorization, апстрим ответит Unauthenticated.
func ClientWithMetadata(userAgent string, src signer.TokenSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var pairs []string

		if rid, _ := ctx.Value(CtxRequestID).(string); rid != "" {
			pairs = append(pairs, mdRequestID, rid)
		}
		if authorizationFrom(ctx) == "" && src != nil {
			if tok := src.AccessToken(); tok != "" {
				pairs = append(pairs, mdAuthorization, "Bearer "+tok)
			}
		}
		if userAgent != "" {
			pairs = append(pairs, mdUserAgent, userAgent)
		}
		if len(pairs) > 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// authorizationFrom возвращает значение authorization из исходящего metadata.
func authorizationFrom(ctx context.Context) string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}

	if v := md.Get(mdAuthorization); len(v) > 0 {
		return v[0]
	}

	return ""
}

// withAuthorization заменяет authorization в исходящем metadata.
func withAuthorization(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(mdAuthorization, "Bearer "+token)

	return metadata.NewOutgoingContext(ctx, md)
}
