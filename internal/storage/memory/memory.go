// memory - in-process реализация storage.CredentialStore.
// Не переживает рестарт процесса; используется в тестах и эфемерных запусках CLI.
package memory

import (
	"context"
	"sync"

	"github.com/pribylovaa/auth-session/internal/storage"
)

// Store - потокобезопасная карта ключ -> строка.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, storage.Wrap("get", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Save(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("save", key, err)
	}

	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()

	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("remove", key, err)
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return nil
}

// Len возвращает количество сохранённых ключей.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

var _ storage.CredentialStore = (*Store)(nil)
