// errors задаёт таксономию ошибок клиентской сессии и маппинг
// HTTP-статусов и gRPC-кодов апстрима на неё.
//
// Таксономия:
//   - ErrNetwork - транспорт/таймаут, ответа от сервера нет;
//   - ErrAuthRejected - 401 на авторизованный запрос (запускает обновление);
//   - ErrRefreshRejected - сервер отверг refresh-токен, сессию не спасти;
//   - ErrSessionExpired - итог для вызывающего, когда сессия завершена принудительно;
//   - ErrInvalidCredentials - вход отклонён (неверный логин/пароль).
//
// Ошибки хранилища (StorageError) живут в пакете storage.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	// ErrNetwork - запрос не дошёл до сервера или ответ не получен (dial, reset, timeout).
	ErrNetwork = stderrors.New("network error")

	// ErrAuthRejected - сервер отклонил access-токен (HTTP 401 / codes.Unauthenticated).
	ErrAuthRejected = stderrors.New("authorization rejected")

	// ErrRefreshRejected - refresh-токен недействителен или истёк.
	// Обрабатывается целиком внутри координатора обновления.
	ErrRefreshRejected = stderrors.New("refresh token rejected")

	// ErrSessionExpired - сессия завершена: обновление невозможно, пользователь разлогинен.
	ErrSessionExpired = stderrors.New("session expired")

	// ErrInvalidCredentials - сервер отклонил пару e-mail/пароль при входе.
	ErrInvalidCredentials = stderrors.New("invalid credentials")

	// ErrUnexpectedStatus - сервер вернул статус, не предусмотренный контрактом эндпойнта.
	ErrUnexpectedStatus = stderrors.New("unexpected status")
)

// StatusError несёт исходный HTTP-статус вместе с классом ошибки.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// FromStatus маппит HTTP-статус ответа в ошибку таксономии.
//
// Поведение:
//   - 2xx - nil;
//   - 401 - ErrAuthRejected;
//   - 502/503/504 - ErrNetwork (апстрим недоступен, повтор имеет смысл);
//   - прочее - ErrUnexpectedStatus.
//
// Результат всегда обёрнут в *StatusError, чтобы код статуса не терялся.
func FromStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return &StatusError{Code: code, Err: ErrAuthRejected}
	case code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout:
		return &StatusError{Code: code, Err: ErrNetwork}
	default:
		return &StatusError{Code: code, Err: ErrUnexpectedStatus}
	}
}

// FromGRPC маппит gRPC-код апстрима в ошибку таксономии.
//   - OK - nil;
//   - Unauthenticated - ErrAuthRejected;
//   - Unavailable / DeadlineExceeded / Canceled - ErrNetwork;
//   - прочее - ErrUnexpectedStatus.
func FromGRPC(c codes.Code) error {
	switch c {
	case codes.OK:
		return nil
	case codes.Unauthenticated:
		return ErrAuthRejected
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return ErrNetwork
	default:
		return ErrUnexpectedStatus
	}
}

// Network помечает транспортную ошибку как ErrNetwork, сохраняя исходную
// причину (в том числе отмену контекста). nil остаётся nil.
func Network(err error) error {
	if err == nil || stderrors.Is(err, ErrNetwork) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// Is и As реэкспортированы, чтобы вызывающему коду хватало одного импорта.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
