// service - фасад клиентской сессии: вход, выход, восстановление
// после рестарта и авторизованные запросы.
//
// Фасад - единственный, кто меняет пару профиль/токен вне координатора
// обновления, и на каждом переходе соблюдает контракт session.Tracker:
// профиль и токен ставятся и снимаются вместе, pending возвращается
// в false на любом пути выхода.
//
// Экземпляр Service безопасен для конкурентного использования.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/auth-session/internal/models"
	"github.com/pribylovaa/auth-session/internal/session"
	"github.com/pribylovaa/auth-session/internal/storage"
)

// DefaultSignOutTimeout - предел на сетевую часть выхода.
const DefaultSignOutTimeout = 5 * time.Second

// AuthAPI - эндпойнты авторизации (authapi.Client).
type AuthAPI interface {
	SignIn(ctx context.Context, email, password string) (models.SignInResult, error)
	NewSignOutRequest(ctx context.Context, refreshToken string) (*http.Request, error)
	NewProfileRequest(ctx context.Context) (*http.Request, error)
}

// Pipeline - конвейер авторизованных запросов (authclient.Client).
type Pipeline interface {
	Do(req *http.Request) (*http.Response, error)
	GetJSON(ctx context.Context, path string, out any) error
}

// Options - необязательные параметры фасада.
type Options struct {
	Logger         *slog.Logger
	SignOutTimeout time.Duration
}

// Service - фасад сессии.
type Service struct {
	api            AuthAPI
	pipeline       Pipeline
	store          storage.CredentialStore
	state          *session.Tracker
	log            *slog.Logger
	signOutTimeout time.Duration
}

// New создаёт фасад.
func New(api AuthAPI, pipeline Pipeline, store storage.CredentialStore, state *session.Tracker, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SignOutTimeout <= 0 {
		opts.SignOutTimeout = DefaultSignOutTimeout
	}

	return &Service{
		api:            api,
		pipeline:       pipeline,
		store:          store,
		state:          state,
		log:            opts.Logger,
		signOutTimeout: opts.SignOutTimeout,
	}
}

// State возвращает снимок состояния сессии.
func (s *Service) State() session.State { return s.state.Read() }

// LoggedIn сообщает, есть ли активная сессия.
func (s *Service) LoggedIn() bool { return s.state.Read().SignedIn() }

// Subscribe подписывает fn на изменения состояния (в том числе на принудительное
// завершение сессии). Возвращает функцию отписки.
func (s *Service) Subscribe(fn func(session.State)) func() {
	return s.state.Subscribe(fn)
}

// Do отправляет запрос к защищённому эндпойнту через авторизованный конвейер.
func (s *Service) Do(req *http.Request) (*http.Response, error) {
	return s.pipeline.Do(req)
}

// GetJSON выполняет авторизованный GET и декодирует JSON-ответ.
func (s *Service) GetJSON(ctx context.Context, path string, out any) error {
	return s.pipeline.GetJSON(ctx, path, out)
}
