// session хранит in-memory состояние клиентской сессии:
// {профиль, access-токен, pending} и рассылает изменения наблюдателям.
//
// Контракт для вызывающих (фасад сессии и координатор обновления):
//   - профиль и access-токен меняются только вместе, через Patch.Auth;
//     профиль без токена (и наоборот) - недопустимое состояние, Update его отвергает;
//   - каждая операция, выставившая PendingBegin, обязана завершиться PendingEnd
//     на любом пути выхода (успех, ошибка, паника), обычно через defer;
//   - писатель в каждый момент один: Update сериализован, читатели
//     всегда видят целиком сформированный снимок.
package session

import (
	"errors"
	"sync"

	"github.com/pribylovaa/auth-session/internal/models"
)

// ErrBrokenInvariant - патч нарушает пару профиль/токен.
var ErrBrokenInvariant = errors.New("session: profile and access token must be set together")

// State - снимок состояния сессии.
type State struct {
	Profile     *models.Profile
	AccessToken string
	Pending     bool
}

// SignedIn сообщает, что в снимке есть профиль (а значит и токен).
func (s State) SignedIn() bool { return s.Profile != nil }

// Auth - новая пара профиль+токен. Нулевое значение означает «разлогинен».
type Auth struct {
	Profile     *models.Profile
	AccessToken string
}

// SignedOut - Auth для сброса сессии.
func SignedOut() *Auth { return &Auth{} }

// PendingOp - что сделать со счётчиком незавершённых операций.
type PendingOp int8

const (
	// PendingKeep - счётчик не трогаем.
	PendingKeep PendingOp = iota
	// PendingBegin - началась операция (вход, выход, обновление).
	PendingBegin
	// PendingEnd - операция завершилась.
	PendingEnd
)

// Patch - частичное обновление состояния. Применяются только заданные поля.
type Patch struct {
	Auth    *Auth
	Pending PendingOp
}

// Tracker - регистр состояния сессии с наблюдателями.
type Tracker struct {
	// writeMu сериализует писателей вместе с рассылкой, чтобы наблюдатели
	// получали снимки в порядке применения патчей.
	writeMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	inflight   int
	nextID     int
	subs       []subscriber
}

type subscriber struct {
	id int
	fn func(State)
}

// Snapshot - снимок вместе с поколением сессии.
// Поколение растёт при каждом применённом Patch.Auth: вход, выход,
// обновление токена. По нему писатель узнаёт, что сессию сменили.
type Snapshot struct {
	State
	Generation uint64
}

// New создаёт регистр в состоянии «разлогинен».
func New() *Tracker {
	return &Tracker{}
}

// Read возвращает текущий снимок. Профиль в снимке - копия.
func (t *Tracker) Read() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	s.Profile = s.Profile.Clone()
	return s
}

// Snapshot возвращает текущий снимок с поколением.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	s.Profile = s.Profile.Clone()
	return Snapshot{State: s, Generation: t.generation}
}

// AccessToken возвращает текущий access-токен (пустой, если сессии нет).
func (t *Tracker) AccessToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state.AccessToken
}

// Update атомарно применяет патч и синхронно уведомляет наблюдателей.
// Наблюдатели не должны вызывать Update (взаимоблокировка).
func (t *Tracker) Update(p Patch) (State, error) {
	return t.UpdateFunc(func(Snapshot) Patch { return p })
}

// UpdateFunc строит патч по текущему снимку и применяет его, не пропуская
// между чтением и записью других писателей. Внутри fn можно писать
// в хранилище: запись и смена состояния выглядят для других писателей
// одним шагом. fn не должна вызывать методы записи Tracker.
func (t *Tracker) UpdateFunc(fn func(Snapshot) Patch) (State, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	p := fn(t.Snapshot())

	t.mu.Lock()
	next := t.state
	inflight := t.inflight
	generation := t.generation

	if p.Auth != nil {
		if (p.Auth.Profile == nil) != (p.Auth.AccessToken == "") {
			t.mu.Unlock()
			return t.Read(), ErrBrokenInvariant
		}
		next.Profile = p.Auth.Profile.Clone()
		next.AccessToken = p.Auth.AccessToken
		generation++
	}

	switch p.Pending {
	case PendingBegin:
		inflight++
	case PendingEnd:
		if inflight > 0 {
			inflight--
		}
	}
	next.Pending = inflight > 0

	t.state = next
	t.inflight = inflight
	t.generation = generation

	subs := append([]subscriber(nil), t.subs...)
	t.mu.Unlock()

	snap := next
	snap.Profile = next.Profile.Clone()
	for _, sub := range subs {
		sub.fn(snap)
	}

	return snap, nil
}

// Subscribe регистрирует наблюдателя и возвращает функцию отписки.
// Наблюдатели вызываются в порядке подписки.
func (t *Tracker) Subscribe(fn func(State)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			for i, sub := range t.subs {
				if sub.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}
