package authserver

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/pribylovaa/auth-session/internal/models"
)

// Учётные данные пользователя, которого заводит Start.
const (
	DemoEmail    = "a@b.com"
	DemoPassword = "pw"
	DemoName     = "Alice"
)

// Start поднимает сервер на httptest с одним пользователем (DemoEmail/DemoPassword).
// Сервер закрывается через t.Cleanup.
func Start(t testing.TB) (*Server, *httptest.Server, models.Profile) {
	t.Helper()

	s := New(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	p, err := s.AddUser(DemoEmail, DemoPassword, DemoName)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, ts, p
}
