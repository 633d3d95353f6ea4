// authclient - конвейер авторизованных запросов:
// подпись -> отправка -> 401 -> обновление (или ожидание текущего) -> повтор.
//
// Каждый запрос повторяется не более одного раза: повтор, снова получивший
// 401, возвращается вызывающему как есть.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/auth-session/internal/clients/authapi"
	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/models"
	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
	"github.com/pribylovaa/auth-session/internal/signer"
)

// Renewer - координатор обновления (refresh.Coordinator).
type Renewer interface {
	Renew(ctx context.Context, stale string) (models.TokenPair, error)
}

// Replay дорабатывает копию запроса перед повтором с новой парой.
// Bearer-заголовок к этому моменту уже выставлен.
type Replay func(req *http.Request, pair models.TokenPair) error

// Options - необязательные параметры клиента.
type Options struct {
	Replays []Replay
	Metrics *metrics.Metrics
}

// Client - HTTP-клиент защищённых эндпойнтов.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *signer.Signer
	renewer Renewer
	replays []Replay
	metrics *metrics.Metrics
}

// New создаёт клиента. hc - уже декорированный клиент (clients.NewHTTPClient).
func New(baseURL string, hc *http.Client, s *signer.Signer, r Renewer, opts Options) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		signer:  s,
		renewer: r,
		replays: opts.Replays,
		metrics: opts.Metrics,
	}
}

// NewRequest собирает запрос к пути относительно базового URL.
// body != nil кодируется в JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	const op = "clients/authclient/NewRequest"

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// Do отправляет запрос, подписанный текущим access-токеном.
//
// Поведение:
//   - транспортная ошибка - ErrNetwork;
//   - ответ не 401 - возвращается как есть (тело закрывает вызывающий);
//   - 401 на подписанный запрос - координатор обновляет пару (или запрос ждёт
//     текущего обмена), затем запрос повторяется один раз с новым токеном;
//   - обновление не удалось - ошибка координатора (ErrSessionExpired, ErrNetwork...).
//
// Запрос без токена при 401 не запускает обновление: обновлять нечего.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	const op = "clients/authclient/Do"

	ctx := req.Context()

	if err := rewindable(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	first, err := clone(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	used := c.signer.Decorate(first)

	resp, err := c.http.Do(first)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, apierrors.Network(err))
	}
	if resp.StatusCode != http.StatusUnauthorized || c.renewer == nil || used == "" {
		return resp, nil
	}
	drainClose(resp.Body)

	l := logctx.From(ctx).With(slog.String("op", op), slog.String("path", req.URL.Path))
	l.Debug("auth_rejected_renewing")

	pair, err := c.renewer.Renew(ctx, used)
	if err != nil {
		c.metrics.Replay(metrics.ResultSkipped)
		l.Info("replay_skipped", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	retry, err := clone(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	signer.Sign(retry, pair.Access)
	for _, fn := range c.replays {
		if err := fn(retry, pair); err != nil {
			return nil, fmt.Errorf("%s: replay: %w", op, err)
		}
	}

	resp, err = c.http.Do(retry)
	if err != nil {
		c.metrics.Replay(metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, apierrors.Network(err))
	}

	result := metrics.ResultOK
	if resp.StatusCode == http.StatusUnauthorized {
		result = metrics.ResultRejected
	}
	c.metrics.Replay(result)
	l.Debug("replayed", slog.Int("status", resp.StatusCode))

	return resp, nil
}

// GetJSON выполняет GET по пути и декодирует JSON-ответ в out.
// Статус вне 2xx отдаётся ошибкой таксономии (errors.FromStatus).
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	const op = "clients/authclient/GetJSON"

	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer drainClose(resp.Body)

	if err := apierrors.FromStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}

	return nil
}

// SignOutBody - повтор запроса выхода несёт в теле новый refresh-токен:
// сервер инвалидирует именно текущий refresh-токен, старый после обмена
// уже недействителен.
func SignOutBody(path string) Replay {
	return func(req *http.Request, pair models.TokenPair) error {
		if req.URL.Path != path {
			return nil
		}

		b, err := authapi.EncodeRefreshToken(pair.Refresh)
		if err != nil {
			return err
		}
		setBody(req, b)

		return nil
	}
}

// rewindable гарантирует, что тело запроса можно перечитать для повтора.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer body: %w", err)
	}
	setBody(req, b)

	return nil
}

// clone - независимая копия запроса со свежим телом.
func clone(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody == nil {
		return r, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	r.Body = body

	return r, nil
}

func setBody(req *http.Request, b []byte) {
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.ContentLength = int64(len(b))
}

func drainClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
