// signer подписывает исходящие запросы к защищённым эндпойнтам
// заголовком Authorization: Bearer <access-token>.
//
// Токен берётся из снимка сессии в момент отправки. Если токена нет,
// запрос уходит без заголовка: сервер его отклонит, и это штатный путь,
// а не ошибка подписчика.
package signer

import (
	"net/http"
	"strings"
)

// HeaderAuthorization - имя заголовка авторизации.
const HeaderAuthorization = "Authorization"

const bearerPrefix = "Bearer "

// TokenSource отдаёт текущий access-токен (session.Tracker его реализует).
type TokenSource interface {
	AccessToken() string
}

// TokenSourceFunc - адаптер функции к TokenSource.
type TokenSourceFunc func() string

func (f TokenSourceFunc) AccessToken() string { return f() }

// Signer - декоратор запроса, читающий токен из источника.
type Signer struct {
	Source TokenSource
}

// New создаёт подписчика поверх источника токенов.
func New(src TokenSource) *Signer {
	return &Signer{Source: src}
}

// Decorate подписывает запрос, если заголовок ещё не выставлен,
// и возвращает токен, которым запрос фактически подписан.
// Явно выставленный вызывающим заголовок не трогается.
func (s *Signer) Decorate(req *http.Request) string {
	if h := req.Header.Get(HeaderAuthorization); h != "" {
		return TokenFromHeader(h)
	}

	tok := ""
	if s != nil && s.Source != nil {
		tok = s.Source.AccessToken()
	}

	Sign(req, tok)
	return tok
}

// Sign выставляет Bearer-заголовок. Пустой токен заголовок не ставит.
func Sign(req *http.Request, token string) {
	if token == "" {
		return
	}

	if req.Header == nil {
		req.Header = make(http.Header)
	}

	req.Header.Set(HeaderAuthorization, bearerPrefix+token)
}

// TokenFromHeader извлекает «сырой» токен из значения Authorization.
// Для схем, отличных от Bearer, возвращает пустую строку.
func TokenFromHeader(h string) string {
	if !strings.HasPrefix(h, bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(h[len(bearerPrefix):])
}
