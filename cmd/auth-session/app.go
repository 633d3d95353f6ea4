package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/pribylovaa/auth-session/internal/clients"
	"github.com/pribylovaa/auth-session/internal/clients/authapi"
	"github.com/pribylovaa/auth-session/internal/clients/authclient"
	"github.com/pribylovaa/auth-session/internal/config"
	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/refresh"
	"github.com/pribylovaa/auth-session/internal/service"
	"github.com/pribylovaa/auth-session/internal/session"
	"github.com/pribylovaa/auth-session/internal/signer"
	"github.com/pribylovaa/auth-session/internal/storage"
	"github.com/pribylovaa/auth-session/internal/storage/memory"
	"github.com/pribylovaa/auth-session/internal/storage/redis"
	"github.com/pribylovaa/auth-session/internal/storage/sqlite"
)

// app - собранный граф зависимостей CLI.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	store  storage.CredentialStore
	state  *session.Tracker
	coord  *refresh.Coordinator
	svc    *service.Service
	closer func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	const op = "cmd/auth-session/newApp"

	store, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hc := clients.NewHTTPClient(clients.HTTPOptions{
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.Timeouts.Request,
		Logger:    log,
	})

	api, err := authapi.New(cfg.API.BaseURL, authapi.Paths{
		SignIn:  cfg.API.SignInPath,
		SignOut: cfg.API.SignOutPath,
		Refresh: cfg.API.RefreshPath,
		Profile: cfg.API.ProfilePath,
	}, hc)
	if err != nil {
		_ = closer()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	state := session.New()
	coord := refresh.New(api, store, state, refresh.Options{
		Timeout: cfg.Timeouts.Refresh,
		Logger:  log,
		Metrics: m,
	})

	pipeline := authclient.New(cfg.API.BaseURL, hc, signer.New(state), coord, authclient.Options{
		Replays: []authclient.Replay{authclient.SignOutBody(api.Paths().SignOut)},
		Metrics: m,
	})

	svc := service.New(api, pipeline, store, state, service.Options{
		Logger:         log,
		SignOutTimeout: cfg.Timeouts.SignOut,
	})

	log.Debug("app_initialized", slog.String("store", cfg.Store.Driver))

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: m,
		store:   store,
		state:   state,
		coord:   coord,
		svc:     svc,
		closer:  closer,
	}, nil
}

func (a *app) Close() {
	if err := a.closer(); err != nil {
		a.log.Warn("store_close_failed", slog.String("err", err.Error()))
	}
}

// restoreIfStored поднимает сессию из хранилища; её отсутствие не ошибка:
// запрос уйдёт без токена и получит ответ сервера.
func (a *app) restoreIfStored(ctx context.Context) error {
	err := a.svc.Restore(ctx)
	if err == nil || errors.Is(err, apierrors.ErrSessionExpired) {
		return nil
	}

	return err
}

func (a *app) dialGRPC() (*grpc.ClientConn, error) {
	return clients.DialGRPC(a.cfg.API.GRPCAddr, clients.GRPCOptions{
		UserAgent: a.cfg.API.UserAgent,
		Timeout:   a.cfg.Timeouts.Request,
		Logger:    a.log,
		Tokens:    a.state,
		Renewer:   a.coord,
		Metrics:   a.metrics,
	})
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.CredentialStore, func() error, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreRedis:
		s, err := redis.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreMemory:
		return memory.New(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
