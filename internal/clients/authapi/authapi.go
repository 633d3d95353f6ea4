// authapi - клиент эндпойнтов авторизации удалённого API:
// вход, обновление пары токенов, выход и проверка сессии (профиль).
//
// Клиент не подписывает запросы и не обновляет токены сам: вход и обмен
// refresh-токена идут «голым» HTTP, а выход и профиль собираются как
// *http.Request и отправляются вызывающим через авторизованный конвейер.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/models"
)

// Пути по умолчанию.
const (
	DefaultSignInPath  = "/auth/sign-in"
	DefaultSignOutPath = "/auth/sign-out"
	DefaultRefreshPath = "/auth/refresh-token"
	DefaultProfilePath = "/auth/is-auth"
)

// maxBody - предел чтения тела ответа эндпойнтов авторизации.
const maxBody = 1 << 20

// Paths - пути эндпойнтов относительно базового URL.
type Paths struct {
	SignIn  string
	SignOut string
	Refresh string
	Profile string
}

func (p Paths) withDefaults() Paths {
	if p.SignIn == "" {
		p.SignIn = DefaultSignInPath
	}
	if p.SignOut == "" {
		p.SignOut = DefaultSignOutPath
	}
	if p.Refresh == "" {
		p.Refresh = DefaultRefreshPath
	}
	if p.Profile == "" {
		p.Profile = DefaultProfilePath
	}

	return p
}

// Client - клиент эндпойнтов авторизации.
type Client struct {
	baseURL string
	paths   Paths
	http    *http.Client
}

// New создаёт клиента. hc == nil - используется http.DefaultClient.
func New(baseURL string, paths Paths, hc *http.Client) (*Client, error) {
	const op = "clients/authapi/New"

	if baseURL == "" {
		return nil, fmt.Errorf("%s: empty base url", op)
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   paths.withDefaults(),
		http:    hc,
	}, nil
}

// Paths возвращает действующие пути эндпойнтов.
func (c *Client) Paths() Paths { return c.paths }

// URL склеивает базовый адрес и путь.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.baseURL + path
}

// SignIn выполняет вход по e-mail и паролю.
//
// Ошибки:
//   - 400/401/403/422 - ErrInvalidCredentials;
//   - транспорт - ErrNetwork;
//   - прочие статусы - по таблице errors.FromStatus.
func (c *Client) SignIn(ctx context.Context, email, password string) (models.SignInResult, error) {
	const op = "clients/authapi/SignIn"

	var out models.SignInResult

	resp, err := c.postJSON(ctx, c.paths.SignIn, models.SignInRequest{Email: email, Password: password})
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return out, fmt.Errorf("%s: %w", op, &apierrors.StatusError{Code: resp.StatusCode, Err: apierrors.ErrInvalidCredentials})
	}
	if err := apierrors.FromStatus(resp.StatusCode); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}

	if err := decode(resp.Body, &out); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if out.Profile.ID == "" || out.Tokens.Access == "" || out.Tokens.Refresh == "" {
		return models.SignInResult{}, fmt.Errorf("%s: incomplete sign-in response: %w", op, apierrors.ErrUnexpectedStatus)
	}

	return out, nil
}

// Refresh обменивает refresh-токен на новую пару. Старый refresh-токен
// после успешного обмена сервером инвалидируется.
//
// Ошибки:
//   - 400/401/403 - ErrRefreshRejected (сессию не спасти);
//   - транспорт - ErrNetwork;
//   - прочие статусы - по таблице errors.FromStatus.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "clients/authapi/Refresh"

	resp, err := c.postJSON(ctx, c.paths.Refresh, models.RefreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, &apierrors.StatusError{Code: resp.StatusCode, Err: apierrors.ErrRefreshRejected})
	}
	if err := apierrors.FromStatus(resp.StatusCode); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	var out models.RefreshResponse
	if err := decode(resp.Body, &out); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.Tokens.Access == "" || out.Tokens.Refresh == "" {
		return models.TokenPair{}, fmt.Errorf("%s: response without tokens: %w", op, apierrors.ErrUnexpectedStatus)
	}

	return out.Tokens, nil
}

// NewSignOutRequest собирает запрос выхода с текущим refresh-токеном в теле.
// Запрос должен уйти через авторизованный конвейер: при истёкшем access-токене
// он будет повторён после обновления уже с новым refresh-токеном.
func (c *Client) NewSignOutRequest(ctx context.Context, refreshToken string) (*http.Request, error) {
	const op = "clients/authapi/NewSignOutRequest"

	body, err := EncodeRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(c.paths.SignOut), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// NewProfileRequest собирает запрос профиля текущей сессии.
func (c *Client) NewProfileRequest(ctx context.Context) (*http.Request, error) {
	const op = "clients/authapi/NewProfileRequest"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(c.paths.Profile), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// DecodeProfile разбирает ответ эндпойнта профиля и закрывает тело.
func DecodeProfile(resp *http.Response) (*models.Profile, error) {
	const op = "clients/authapi/DecodeProfile"

	defer drainClose(resp.Body)

	if err := apierrors.FromStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out models.ProfileResponse
	if err := decode(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out.Profile.ID == "" {
		return nil, fmt.Errorf("%s: response without profile: %w", op, apierrors.ErrUnexpectedStatus)
	}

	return &out.Profile, nil
}

// EncodeRefreshToken кодирует тело {"refreshToken": ...} для выхода и обновления.
func EncodeRefreshToken(refreshToken string) ([]byte, error) {
	return json.Marshal(models.RefreshTokenRequest{RefreshToken: refreshToken})
}

func (c *Client) postJSON(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierrors.Network(err)
	}

	return resp, nil
}

func decode(r io.Reader, v any) error {
	if err := json.NewDecoder(io.LimitReader(r, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// drainClose дочитывает и закрывает тело, чтобы соединение вернулось в пул.
func drainClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxBody))
	_ = rc.Close()
}
