package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/auth-session/internal/config"
	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/session"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const usage = `usage: auth-session [-config path] <command> [args]

commands:
  signin <email> <password>   sign in and persist the session
  signout                     end the session (local cleanup always succeeds)
  whoami                      restore the session and print the profile
  get <path>                  authorized GET, prints the JSON response
  watch <path> [interval]     repeat an authorized GET until interrupted
  grpc-health                 health check of the gRPC upstream (api.grpc_addr)
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.MustLoad(configPath)

	// Stdout занят выводом команд, логи - в stderr.
	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		stop := serveMetrics(cfg.Metrics.Addr(), log)
		defer stop()
	}

	a, err := newApp(rootCtx, cfg, log, m)
	if err != nil {
		log.Error("app_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := run(rootCtx, a, flag.Args()); err != nil {
		log.Error("command_failed", slog.String("cmd", flag.Arg(0)), slog.String("err", err.Error()))
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, a *app, args []string) error {
	cmd, args := args[0], args[1:]

	switch cmd {
	case "signin":
		if len(args) != 2 {
			return errors.New("signin: want <email> <password>")
		}
		if err := a.svc.SignIn(ctx, args[0], args[1]); err != nil {
			return err
		}
		return printJSON(a.svc.State().Profile)

	case "signout":
		a.svc.SignOut(ctx)
		return nil

	case "whoami":
		if err := a.svc.Restore(ctx); err != nil {
			return err
		}
		return printJSON(a.svc.State().Profile)

	case "get":
		if len(args) != 1 {
			return errors.New("get: want <path>")
		}
		if err := a.restoreIfStored(ctx); err != nil {
			return err
		}

		var out json.RawMessage
		if err := a.svc.GetJSON(ctx, args[0], &out); err != nil {
			return err
		}
		return printJSON(out)

	case "watch":
		if len(args) < 1 {
			return errors.New("watch: want <path> [interval]")
		}
		every := 10 * time.Second
		if len(args) > 1 {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			every = d
		}
		return a.watch(ctx, args[0], every)

	case "grpc-health":
		conn, err := a.dialGRPC()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := a.restoreIfStored(ctx); err != nil {
			return err
		}

		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("grpc-health: %w: %w", apierrors.FromGRPC(status.Code(err)), err)
		}
		fmt.Println(resp.GetStatus().String())
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// watch повторяет авторизованный GET, пока не придёт сигнал или сессия не завершится.
func (a *app) watch(ctx context.Context, path string, every time.Duration) error {
	if err := a.restoreIfStored(ctx); err != nil {
		return err
	}

	unsubscribe := a.svc.Subscribe(func(s session.State) {
		if !s.SignedIn() && !s.Pending {
			a.log.Warn("session_ended")
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		var out json.RawMessage
		err := a.svc.GetJSON(ctx, path, &out)
		switch {
		case errors.Is(err, apierrors.ErrSessionExpired):
			return err
		case err != nil:
			a.log.Warn("watch_request_failed", slog.String("err", err.Error()))
		default:
			a.log.Info("watch_ok", slog.Int("bytes", len(out)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, log *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("metrics_listen_failed", slog.String("addr", addr), slog.String("err", err.Error()))
		return func() {}
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics_serve_failed", slog.String("err", err.Error()))
		}
	}()
	log.Info("metrics_listen_start", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, apierrors.ErrInvalidCredentials), errors.Is(err, apierrors.ErrSessionExpired):
		return 3
	case errors.Is(err, apierrors.ErrNetwork):
		return 4
	default:
		return 1
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
