// storage содержит контракт долговременного хранилища учётных данных
// клиента (access/refresh-токены) и общие ошибки слоя.
//
// Реализации:
//   - memory - процессная карта (тесты, эфемерные запуски);
//   - sqlite - локальный файл (modernc.org/sqlite), переживает рестарт процесса;
//   - redis - общий стор для нескольких экземпляров клиента.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Ключи хранилища. Значения - простые строки без обёртки.
const (
	KeyAccessToken  = "access-token"
	KeyRefreshToken = "refresh-token"
)

// ErrUnavailable - носитель недоступен (StorageError таксономии).
// Проверяется через errors.Is на любой ошибке реализаций.
var ErrUnavailable = errors.New("credential storage unavailable")

// CredentialStore - контракт хранилища токенов.
// Все операции могут завершиться ошибкой; отсутствие ключа ошибкой не является.
type CredentialStore interface {
	// Get возвращает значение и признак его наличия.
	Get(ctx context.Context, key string) (string, bool, error)
	// Save сохраняет значение по ключу, перезаписывая прежнее.
	Save(ctx context.Context, key, value string) error
	// Remove удаляет ключ; удаление отсутствующего ключа - не ошибка.
	Remove(ctx context.Context, key string) error
}

// Error описывает сбой операции над хранилищем.
type Error struct {
	Op  string // "get", "save", "remove"
	Key string
	Err error
}

func (e *Error) Error() string {
	msg := e.Op + " credential"
	if e.Key != "" {
		msg += " " + fmt.Sprintf("%q", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is делает любой *Error совместимым с ErrUnavailable.
func (e *Error) Is(target error) bool { return target == ErrUnavailable }

// Wrap оборачивает ошибку драйвера в *Error; nil остаётся nil.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Key: key, Err: err}
}

// SaveTokens сохраняет обе части пары: сначала access, затем refresh.
// Останавливается на первой ошибке.
func SaveTokens(ctx context.Context, s CredentialStore, access, refresh string) error {
	if err := s.Save(ctx, KeyAccessToken, access); err != nil {
		return err
	}

	return s.Save(ctx, KeyRefreshToken, refresh)
}

// RemoveTokens удаляет оба ключа в режиме best-effort: пытается удалить
// каждый и возвращает объединённую ошибку.
func RemoveTokens(ctx context.Context, s CredentialStore) error {
	errRefresh := s.Remove(ctx, KeyRefreshToken)
	errAccess := s.Remove(ctx, KeyAccessToken)

	return errors.Join(errRefresh, errAccess)
}
