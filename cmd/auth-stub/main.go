package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pribylovaa/auth-session/internal/config"
	"github.com/pribylovaa/auth-session/internal/testkit/authserver"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	log.Info("starting_auth_stub", slog.String("env", cfg.Env), slog.String("addr", cfg.Stub.Addr()))

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	srv := authserver.New(authserver.Options{
		Secret:    cfg.Stub.Secret,
		AccessTTL: cfg.Stub.AccessTTL,
		Logger:    log,
	})

	profile, err := srv.AddUser(cfg.Stub.Email, cfg.Stub.Password, authserver.DemoName)
	if err != nil {
		log.Error("add_user_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("user_added", slog.String("id", profile.ID), slog.String("email", profile.Email))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", srv.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.Stub.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_signal")
	case err := <-errCh:
		log.Error("http_server_error", slog.String("err", err.Error()))
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shCtx); err != nil {
		log.Warn("http_shutdown_error", slog.String("err", err.Error()))
	}

	log.Info("auth_stub_stopped")
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
