// interceptors предоставляет декораторы исходящих запросов клиента:
// http.RoundTripper-мидлвары для REST-апстрима и unary-интерсепторы
// для gRPC-апстрима.
//
// Порядок HTTP-цепочки: request id -> user-agent -> timeout -> logging.
package interceptors

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
	"github.com/pribylovaa/auth-session/internal/pkg/redact"
)

// HeaderRequestID - заголовок идентификатора запроса.
const HeaderRequestID = "X-Request-Id"

type CtxKey string

// CtxRequestID - ключ контекста с идентификатором запроса, заданным вызывающим.
const CtxRequestID CtxKey = "request_id"

// Middleware - декоратор http.RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc - адаптер функции к http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain применяет мидлвары к транспорту в порядке перечисления:
// первый мидлвар - внешний.
func Chain(rt http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}

	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}

	return rt
}

// WithRequestID обеспечивает заголовок X-Request-Id:
//  1. заголовок уже есть - оставляет;
//  2. есть CtxRequestID в контексте - берёт его;
//  3. иначе генерирует UUID.
//
// Повтор запроса после обновления токена несёт тот же id.
func WithRequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(HeaderRequestID) != "" {
				return next.RoundTrip(req)
			}

			rid, _ := req.Context().Value(CtxRequestID).(string)
			if rid == "" {
				rid = uuid.NewString()
			}

			// RoundTripper не должен менять исходный запрос.
			r := req.Clone(req.Context())
			r.Header.Set(HeaderRequestID, rid)

			return next.RoundTrip(r)
		})
	}
}

// WithUserAgent выставляет User-Agent, если вызывающий его не задал.
// Пустой ua делает мидлвар no-op.
func WithUserAgent(ua string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if ua == "" {
			return next
		}

		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("User-Agent") != "" {
				return next.RoundTrip(req)
			}

			r := req.Clone(req.Context())
			r.Header.Set("User-Agent", ua)

			return next.RoundTrip(r)
		})
	}
}

// WithTimeout навешивает дедлайн d на запрос, если у контекста его ещё нет.
// Дедлайн действует до закрытия тела ответа. d <= 0 - no-op.
func WithTimeout(d time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if d <= 0 {
			return next
		}

		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if _, ok := req.Context().Deadline(); ok {
				return next.RoundTrip(req)
			}

			ctx, cancel := context.WithTimeout(req.Context(), d)
			resp, err := next.RoundTrip(req.WithContext(ctx))
			if err != nil {
				cancel()
				return nil, err
			}

			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		})
	}
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// WithLogging пишет одну запись на каждый исходящий запрос: msg="http",
// method, host, path, status (или err), dur, request_id.
// Заголовок Authorization логируется только в замаскированном виде, тела - никогда.
func WithLogging(base *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			l := base
			if l == nil {
				l = logctx.From(req.Context())
			}

			start := time.Now()
			resp, err := next.RoundTrip(req)

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("host", req.URL.Host),
				slog.String("path", req.URL.Path),
				slog.Duration("dur", time.Since(start)),
			}
			if rid := req.Header.Get(HeaderRequestID); rid != "" {
				attrs = append(attrs, slog.String("request_id", rid))
			}
			if h := req.Header.Get("Authorization"); h != "" {
				attrs = append(attrs, slog.String("auth", redact.Authorization(h)))
			}

			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
				l.LogAttrs(req.Context(), slog.LevelWarn, "http", attrs...)
				return nil, err
			}

			attrs = append(attrs, slog.Int("status", resp.StatusCode))
			l.LogAttrs(req.Context(), slog.LevelInfo, "http", attrs...)

			return resp, nil
		})
	}
}
