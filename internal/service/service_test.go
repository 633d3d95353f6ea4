package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/auth-session/internal/clients/authapi"
	"github.com/pribylovaa/auth-session/internal/clients/authclient"
	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/refresh"
	"github.com/pribylovaa/auth-session/internal/session"
	"github.com/pribylovaa/auth-session/internal/signer"
	"github.com/pribylovaa/auth-session/internal/storage"
	"github.com/pribylovaa/auth-session/internal/storage/memory"
	"github.com/pribylovaa/auth-session/internal/testkit/authserver"
	"github.com/pribylovaa/auth-session/mocks"
)

// recorder копит снимки, которые получают наблюдатели.
type recorder struct {
	mu     sync.Mutex
	states []session.State
}

func (r *recorder) observe(s session.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) all() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]session.State(nil), r.states...)
}

func silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// build собирает фасад поверх сервера ts и хранилища store так же, как это делает CLI.
func build(t *testing.T, ts *httptest.Server, store storage.CredentialStore) (*Service, *refresh.Coordinator, *recorder) {
	t.Helper()

	return buildWith(t, ts, store, Options{Logger: silent()})
}

func buildWith(t *testing.T, ts *httptest.Server, store storage.CredentialStore, opts Options) (*Service, *refresh.Coordinator, *recorder) {
	t.Helper()

	state := session.New()

	api, err := authapi.New(ts.URL, authapi.Paths{}, ts.Client())
	require.NoError(t, err)

	coord := refresh.New(api, store, state, refresh.Options{Logger: silent()})
	pipeline := authclient.New(ts.URL, ts.Client(), signer.New(state), coord, authclient.Options{
		Replays: []authclient.Replay{authclient.SignOutBody(api.Paths().SignOut)},
	})

	svc := New(api, pipeline, store, state, opts)

	rec := &recorder{}
	t.Cleanup(svc.Subscribe(rec.observe))

	return svc, coord, rec
}

func stored(t *testing.T, s storage.CredentialStore, key string) string {
	t.Helper()

	v, _, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v
}

// requireInvariant - ни в одном снимке профиль и токен не расходятся.
func requireInvariant(t *testing.T, states []session.State) {
	t.Helper()

	for i, s := range states {
		require.Equal(t, s.Profile != nil, s.AccessToken != "", "state #%d: %+v", i, s)
	}
}

func TestSignIn_OK(t *testing.T) {
	t.Parallel()

	srv, ts, p := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))

	st := svc.State()
	require.True(t, svc.LoggedIn())
	require.Equal(t, p.ID, st.Profile.ID)
	require.Equal(t, authserver.DemoEmail, st.Profile.Email)
	require.NotEmpty(t, st.AccessToken)
	require.False(t, st.Pending)

	require.Equal(t, st.AccessToken, stored(t, store, storage.KeyAccessToken))
	require.True(t, srv.RefreshValid(stored(t, store, storage.KeyRefreshToken)))

	states := rec.all()
	require.Len(t, states, 2)
	require.True(t, states[0].Pending)
	require.Nil(t, states[0].Profile)
	require.False(t, states[1].Pending)
	requireInvariant(t, states)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	err := svc.SignIn(context.Background(), authserver.DemoEmail, "wrong")
	require.ErrorIs(t, err, apierrors.ErrInvalidCredentials)

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
	requireInvariant(t, rec.all())
}

func TestSignIn_NetworkError(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, _ := build(t, ts, store)
	ts.Close()

	err := svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword)
	require.ErrorIs(t, err, apierrors.ErrNetwork)
	require.Equal(t, session.State{}, svc.State())
}

// Повторный вход снимает прежний профиль на время вызова.
func TestSignIn_ReplacesSession(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	svc, _, rec := build(t, ts, memory.New())

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	first := svc.State().AccessToken

	require.Error(t, svc.SignIn(ctx, authserver.DemoEmail, "wrong"))
	require.False(t, svc.LoggedIn())

	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	require.NotEqual(t, first, svc.State().AccessToken)
	requireInvariant(t, rec.all())
}

func TestSignIn_PersistFailure_SessionStillActive(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockCredentialStore(ctrl)
	store.EXPECT().Save(gomock.Any(), storage.KeyAccessToken, gomock.Any()).
		Return(storage.Wrap("save", storage.KeyAccessToken, errors.New("disk full")))

	svc, _, _ := build(t, ts, store)

	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))
	require.True(t, svc.LoggedIn())
	require.False(t, svc.State().Pending)
}

func TestSignOut_OK(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	rt := stored(t, store, storage.KeyRefreshToken)

	svc.SignOut(ctx)

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
	require.Equal(t, []string{rt}, srv.SignOutTokens())
	require.False(t, srv.RefreshValid(rt))

	// Во время выхода профиль не снимался.
	states := rec.all()
	signingOut := states[len(states)-2]
	require.True(t, signingOut.Pending)
	require.NotNil(t, signingOut.Profile)
	requireInvariant(t, states)
}

func TestSignOut_Idempotent_NoNetwork(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	svc, _, rec := build(t, ts, memory.New())

	svc.SignOut(context.Background())
	svc.SignOut(context.Background())

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, srv.Count(authserver.PathSignOut))
	require.Empty(t, rec.all())
}

// Истёкший access-токен при выходе: одно обновление, повтор выхода с новым refresh-токеном.
func TestSignOut_ExpiredAccessToken_RenewsFirst(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, coord, rec := build(t, ts, store)

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	original := stored(t, store, storage.KeyRefreshToken)

	srv.Expire()
	svc.SignOut(ctx)

	require.Equal(t, 1, srv.Count(authserver.PathRefresh))
	sent := srv.SignOutTokens()
	require.Len(t, sent, 1)
	require.NotEqual(t, original, sent[0])
	require.False(t, srv.RefreshValid(sent[0]))

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
	require.False(t, coord.Refreshing())
	requireInvariant(t, rec.all())
}

func TestSignOut_ServerDown_StillClearsLocally(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, _ := build(t, ts, store)

	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))
	ts.Close()

	svc.SignOut(context.Background())

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
}

func TestSignOut_CanceledContext_StillClearsLocally(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, _ := build(t, ts, store)

	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.SignOut(ctx)

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
}

func TestSignOut_RefreshRejected_StillClears(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))
	srv.Expire()
	srv.RejectRefresh(true)

	svc.SignOut(context.Background())

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
	require.Empty(t, srv.SignOutTokens())
	requireInvariant(t, rec.all())
}

func TestSignOut_StorageUnavailable_StillClearsState(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockCredentialStore(ctrl)
	down := storage.Wrap("get", storage.KeyRefreshToken, errors.New("locked"))

	store.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	store.EXPECT().Get(gomock.Any(), storage.KeyRefreshToken).Return("", false, down)
	store.EXPECT().Remove(gomock.Any(), gomock.Any()).Return(down).Times(2)

	svc, _, _ := build(t, ts, store)
	require.NoError(t, svc.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))

	svc.SignOut(context.Background())
	require.Equal(t, session.State{}, svc.State())
}

// Выход не дождался обновления и завершил сессию локально. Обмен,
// закончившийся позже, не возвращает токены в хранилище.
func TestSignOut_RefreshFinishesAfterLocalCleanup(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, coord, rec := buildWith(t, ts, store, Options{Logger: silent(), SignOutTimeout: 50 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))

	srv.Expire()
	release := srv.HoldRefresh()
	defer release()

	errCh := make(chan error, 1)
	go func() {
		var out authserver.ProductsResponse
		errCh <- svc.GetJSON(ctx, authserver.PathProducts, &out)
	}()
	require.Eventually(t, func() bool {
		return coord.Refreshing() && srv.Count(authserver.PathRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)

	svc.SignOut(ctx)
	require.False(t, svc.LoggedIn())
	require.Zero(t, store.Len())

	release()
	require.ErrorIs(t, <-errCh, apierrors.ErrSessionExpired)
	require.Eventually(t, func() bool { return !coord.Refreshing() }, time.Second, 5*time.Millisecond)

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())
	requireInvariant(t, rec.all())
}

// Сценарий: запрос с истёкшим токеном повторяется один раз с новым.
func TestGetJSON_ExpiredToken_Replayed(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	a1 := svc.State().AccessToken
	r1 := stored(t, store, storage.KeyRefreshToken)

	srv.Expire()

	var out authserver.ProductsResponse
	require.NoError(t, svc.GetJSON(ctx, authserver.PathProducts, &out))

	a2 := svc.State().AccessToken
	require.NotEqual(t, a1, a2)
	require.Equal(t, a2, out.Token)
	require.Equal(t, []string{a1, a2}, srv.ProductTokens())
	require.Equal(t, a2, stored(t, store, storage.KeyAccessToken))
	require.NotEqual(t, r1, stored(t, store, storage.KeyRefreshToken))
	require.True(t, svc.LoggedIn())
	require.False(t, svc.State().Pending)
	requireInvariant(t, rec.all())
}

// Сценарий: отказ в обновлении завершает сессию, наблюдатели видят переход.
func TestGetJSON_RefreshRejected_SessionEnds(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	store := memory.New()
	svc, _, rec := build(t, ts, store)

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	srv.Expire()
	srv.RejectRefresh(true)

	err := svc.GetJSON(ctx, authserver.PathProducts, nil)
	require.ErrorIs(t, err, apierrors.ErrSessionExpired)

	require.Equal(t, session.State{}, svc.State())
	require.Zero(t, store.Len())

	states := rec.all()
	require.False(t, states[len(states)-1].SignedIn())
	requireInvariant(t, states)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	srv, ts, p := authserver.Start(t)
	store := memory.New()
	first, _, _ := build(t, ts, store)

	ctx := context.Background()
	require.NoError(t, first.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	token := first.State().AccessToken

	t.Run("valid_token", func(t *testing.T) {
		svc, _, _ := build(t, ts, store)
		require.NoError(t, svc.Restore(ctx))

		st := svc.State()
		require.Equal(t, p.ID, st.Profile.ID)
		require.Equal(t, token, st.AccessToken)
		require.False(t, st.Pending)
	})

	t.Run("expired_token_renews_once", func(t *testing.T) {
		srv.Expire()

		svc, _, rec := build(t, ts, store)
		require.NoError(t, svc.Restore(ctx))

		st := svc.State()
		require.Equal(t, p.ID, st.Profile.ID)
		require.NotEqual(t, token, st.AccessToken)
		require.Equal(t, st.AccessToken, stored(t, store, storage.KeyAccessToken))
		require.Equal(t, 1, srv.Count(authserver.PathRefresh))
		requireInvariant(t, rec.all())
	})

	t.Run("refresh_rejected_clears_store", func(t *testing.T) {
		srv.Expire()
		srv.RejectRefresh(true)
		defer srv.RejectRefresh(false)

		svc, _, _ := build(t, ts, store)
		err := svc.Restore(ctx)
		require.ErrorIs(t, err, apierrors.ErrSessionExpired)
		require.Equal(t, session.State{}, svc.State())
		require.Zero(t, store.Len())
	})

	t.Run("nothing_stored", func(t *testing.T) {
		svc, _, rec := build(t, ts, memory.New())
		err := svc.Restore(ctx)
		require.ErrorIs(t, err, apierrors.ErrSessionExpired)
		require.Empty(t, rec.all())
	})
}

func TestRestore_NetworkError_KeepsStoredTokens(t *testing.T) {
	t.Parallel()

	_, ts, _ := authserver.Start(t)
	store := memory.New()
	first, _, _ := build(t, ts, store)
	require.NoError(t, first.SignIn(context.Background(), authserver.DemoEmail, authserver.DemoPassword))

	svc, _, _ := build(t, ts, store)
	ts.Close()

	err := svc.Restore(context.Background())
	require.ErrorIs(t, err, apierrors.ErrNetwork)
	require.Equal(t, session.State{}, svc.State())
	require.Equal(t, 2, store.Len())
}

// Инвариант профиль/токен при конкурентных входах, запросах и выходе.
func TestInvariant_UnderConcurrentOperations(t *testing.T) {
	t.Parallel()

	srv, ts, _ := authserver.Start(t)
	svc, _, rec := build(t, ts, memory.New())

	ctx := context.Background()
	require.NoError(t, svc.SignIn(ctx, authserver.DemoEmail, authserver.DemoPassword))
	srv.Expire()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.GetJSON(ctx, authserver.PathProducts, nil)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.SignOut(ctx)
	}()
	wg.Wait()

	require.False(t, svc.State().Pending)
	requireInvariant(t, rec.all())
}
