// refresh реализует координатор обновления access-токена.
//
// Гарантии:
//   - в каждый момент выполняется не более одного обмена refresh-токена
//     (single-flight), сколько бы запросов ни получили 401 одновременно;
//   - запросы, получившие 401 во время обмена, встают в очередь ожидающих
//     текущего обмена и освобождаются в порядке прихода (FIFO);
//   - ожидающие освобождаются только после того, как новая пара сохранена
//     в хранилище и отражена в состоянии сессии; сохранение и смена состояния
//     идут одним шагом писателя (session.Tracker.UpdateFunc), поэтому выход
//     или новый вход во время обмена не получают чужую пару в хранилище;
//   - отказ сервера в обновлении (ErrRefreshRejected) завершает сессию:
//     состояние и сохранённые токены очищаются, все ожидающие получают
//     ErrSessionExpired.
//
// Состояния: IDLE (ticket == nil) и REFRESHING (ticket != nil).
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/metrics"
	"github.com/pribylovaa/auth-session/internal/models"
	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
	"github.com/pribylovaa/auth-session/internal/session"
	"github.com/pribylovaa/auth-session/internal/storage"
)

// DefaultTimeout - предел на один обмен, если в Options не задан свой.
const DefaultTimeout = 10 * time.Second

// Exchanger обменивает refresh-токен на новую пару.
// Отказ сервера должен возвращаться как errors.ErrRefreshRejected.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
}

// Options - необязательные параметры координатора.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type outcome struct {
	pair models.TokenPair
	err  error
}

type waiter struct {
	ch  chan outcome
	log *slog.Logger
}

// finish - что применить к сессии по итогам обмена.
type finish int8

const (
	// finishNone - сессию не трогаем (сетевой сбой, ошибка чтения хранилища).
	finishNone finish = iota
	// finishRenewed - сохранить новую пару и поставить новый access-токен.
	finishRenewed
	// finishTerminate - очистить хранилище и завершить сессию.
	finishTerminate
)

// ticket - один обмен в полёте. Живёт от первого 401 до освобождения всех ожидающих.
type ticket struct {
	id      string
	waiters []waiter
	// generation - поколение сессии на момент создания ticket.
	generation uint64
	started    time.Time
}

// Coordinator - single-flight координатор обновления.
type Coordinator struct {
	exchanger Exchanger
	store     storage.CredentialStore
	state     *session.Tracker
	timeout   time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	ticket *ticket
	last   models.TokenPair
}

// New создаёт координатор.
func New(ex Exchanger, store storage.CredentialStore, state *session.Tracker, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Coordinator{
		exchanger: ex,
		store:     store,
		state:     state,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Renew возвращает пару, с которой нужно повторить запрос, отклонённый с 401.
// stale - токен, которым был подписан отклонённый запрос.
//
// Поведение:
//   - обмен уже идёт - встаём в очередь ожидающих;
//   - в сессии уже другой токен (обновление завершилось раньше) - отдаём
//     актуальную пару без нового обмена;
//   - иначе создаём ticket и запускаем обмен.
//
// Отмена ctx снимает с ожидания только вызывающего: обмен доводится до конца.
func (c *Coordinator) Renew(ctx context.Context, stale string) (models.TokenPair, error) {
	w := waiter{ch: make(chan outcome, 1), log: logctx.From(ctx)}

	c.mu.Lock()
	if t := c.ticket; t != nil {
		t.waiters = append(t.waiters, w)
		c.mu.Unlock()

		c.metrics.WaiterJoined()
		w.log.Debug("refresh_wait", slog.String("refresh_id", t.id))
		return wait(ctx, w.ch)
	}

	cur := c.state.Snapshot()
	if cur.AccessToken != "" && cur.AccessToken != stale {
		last := c.last
		c.mu.Unlock()

		return c.current(ctx, cur.AccessToken, last)
	}

	t := &ticket{
		id:         uuid.NewString(),
		waiters:    []waiter{w},
		generation: cur.Generation,
		started:    time.Now(),
	}
	c.ticket = t
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), t)

	return wait(ctx, w.ch)
}

// Refreshing сообщает, идёт ли сейчас обмен.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ticket != nil
}

// Waiters возвращает число запросов, ожидающих текущего обмена.
func (c *Coordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticket == nil {
		return 0
	}

	return len(c.ticket.waiters)
}

func wait(ctx context.Context, ch <-chan outcome) (models.TokenPair, error) {
	select {
	case o := <-ch:
		return o.pair, o.err
	case <-ctx.Done():
		return models.TokenPair{}, ctx.Err()
	}
}

// current собирает актуальную пару, когда обмен не нужен.
func (c *Coordinator) current(ctx context.Context, access string, last models.TokenPair) (models.TokenPair, error) {
	const op = "refresh/current"

	if last.Access == access {
		return last, nil
	}

	// Токен пришёл не из обмена (вход/восстановление) - refresh берём из хранилища.
	rt, _, err := c.store.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{Access: access, Refresh: rt}, nil
}

// run выполняет обмен, применяет итог к состоянию и освобождает ожидающих.
func (c *Coordinator) run(parent context.Context, t *ticket) {
	const op = "refresh/run"

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	l := c.log.With(slog.String("op", op), slog.String("refresh_id", t.id))
	ctx = logctx.Into(ctx, l)

	_, _ = c.state.Update(session.Patch{Pending: session.PendingBegin})
	l.Info("refresh_started")

	var (
		out    outcome
		fin    finish
		result string
	)

	// Pending снимается и ожидающие освобождаются на любом пути, включая панику.
	defer func() {
		if rec := recover(); rec != nil {
			l.Error("refresh_panic", slog.Any("reason", rec))
			out = outcome{err: fmt.Errorf("%s: panic: %v", op, rec)}
			fin = finishNone
			result = metrics.ResultError
		}

		discarded := false
		_, err := c.state.UpdateFunc(func(s session.Snapshot) session.Patch {
			p := session.Patch{Pending: session.PendingEnd}
			if fin == finishNone {
				return p
			}
			if s.Generation != t.generation {
				// Сессию завершили или сменили, пока шёл обмен.
				discarded = true
				return p
			}

			a := c.apply(context.WithoutCancel(ctx), fin, out.pair, s)
			if a != nil {
				p.Auth = a
			}
			return p
		})
		if err != nil {
			l.Error("refresh_state_update_failed", slog.String("err", err.Error()))
		}

		if discarded {
			l.Info("refresh_discarded_session_changed")
			out = outcome{err: fmt.Errorf("%s: %w", op, apierrors.ErrSessionExpired)}
			if fin == finishRenewed {
				result = metrics.ResultSkipped
			}
		}

		c.release(t, out)
		c.metrics.ObserveRefresh(result, time.Since(t.started))

		l.Info("refresh_finished",
			slog.String("result", result),
			slog.Int("waiters", len(t.waiters)),
			slog.Duration("dur", time.Since(t.started)),
		)
	}()

	out, fin, result = c.exchange(ctx)
}

// exchange - собственно обмен: чтение refresh-токена и вызов сервера.
// Хранилище и состояние здесь не меняются: это делает apply.
func (c *Coordinator) exchange(ctx context.Context) (outcome, finish, string) {
	const op = "refresh/exchange"

	l := logctx.From(ctx)

	rt, ok, err := c.store.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return outcome{err: fmt.Errorf("%s: %w", op, err)}, finishNone, metrics.ResultError
	}

	if !ok || rt == "" {
		l.Warn("refresh_token_missing")
		return outcome{err: fmt.Errorf("%s: %w", op, apierrors.ErrSessionExpired)}, finishTerminate, metrics.ResultRejected
	}

	pair, err := c.exchanger.Refresh(ctx, rt)
	if err != nil {
		if errors.Is(err, apierrors.ErrRefreshRejected) {
			l.Warn("refresh_rejected", slog.String("err", err.Error()))
			return outcome{err: fmt.Errorf("%s: %w", op, apierrors.ErrSessionExpired)}, finishTerminate, metrics.ResultRejected
		}

		return outcome{err: fmt.Errorf("%s: %w", op, err)}, finishNone, metrics.ResultError
	}

	return outcome{pair: pair}, finishRenewed, metrics.ResultOK
}

// apply пишет итог обмена в хранилище и возвращает Auth для состояния
// (nil - профиль не меняется). Вызывается внутри UpdateFunc, когда
// сессия всё ещё та же, что при создании ticket.
func (c *Coordinator) apply(ctx context.Context, fin finish, pair models.TokenPair, s session.Snapshot) *session.Auth {
	l := logctx.From(ctx)

	switch fin {
	case finishTerminate:
		if err := storage.RemoveTokens(ctx, c.store); err != nil {
			l.Warn("refresh_cleanup_failed", slog.String("err", err.Error()))
		}
		return session.SignedOut()

	case finishRenewed:
		if err := storage.SaveTokens(ctx, c.store, pair.Access, pair.Refresh); err != nil {
			// Хранилище недоступно: сессия в памяти продолжает работать,
			// но после рестарта токены будут потеряны.
			l.Warn("refresh_persist_failed", slog.String("err", err.Error()))
		}

		c.mu.Lock()
		c.last = pair
		c.mu.Unlock()

		// Без сессии (восстановление) пара только сохраняется.
		if !s.SignedIn() {
			return nil
		}
		return &session.Auth{Profile: s.Profile, AccessToken: pair.Access}
	}

	return nil
}

// release переводит координатор в IDLE и освобождает ожидающих по порядку прихода.
func (c *Coordinator) release(t *ticket, out outcome) {
	c.mu.Lock()
	if c.ticket == t {
		c.ticket = nil
	}
	waiters := t.waiters
	c.mu.Unlock()

	for i, w := range waiters {
		w.log.Debug("refresh_waiter_released",
			slog.String("refresh_id", t.id),
			slog.Int("position", i),
		)
		w.ch <- out
	}
}
