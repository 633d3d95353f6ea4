// authserver - эталонная реализация API авторизации для тестов и ручных
// запусков клиента: вход, обновление (с ротацией refresh-токена), выход,
// проверка сессии и защищённый ресурс /products.
//
// Access-токены - JWT HS256 с номером эпохи: Expire() сдвигает эпоху,
// и все выданные ранее access-токены начинают получать 401.
// Refresh-токены - непрозрачные строки; после обмена старый недействителен.
package authserver

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/auth-session/internal/models"
)

// Пути эндпойнтов.
const (
	PathSignIn   = "/auth/sign-in"
	PathSignOut  = "/auth/sign-out"
	PathRefresh  = "/auth/refresh-token"
	PathProfile  = "/auth/is-auth"
	PathProducts = "/products"
)

var (
	errInvalidToken = errors.New("invalid token")
	errStaleToken   = errors.New("token expired")
)

// Options - параметры сервера.
type Options struct {
	Secret    string
	AccessTTL time.Duration
	Logger    *slog.Logger
	// BcryptCost - стоимость хэширования паролей; 0 - bcrypt.MinCost.
	BcryptCost int
}

type user struct {
	profile models.Profile
	hash    []byte
}

// Server - состояние эталонного API.
type Server struct {
	secret []byte
	ttl    time.Duration
	cost   int
	log    *slog.Logger

	mu       sync.Mutex
	users    map[string]*user  // email -> user
	byID     map[string]*user  // id -> user
	refresh  map[string]string // refresh -> user id
	epoch    int
	reject   bool
	hold     chan struct{}
	counters map[string]int
	signOuts []string // refresh-токены из тел запросов выхода
	seen     []string // access-токены, которыми вызывали /products
}

// New создаёт сервер без пользователей.
func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "authserver-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}

	return &Server{
		secret:   []byte(opts.Secret),
		ttl:      opts.AccessTTL,
		cost:     opts.BcryptCost,
		log:      opts.Logger,
		users:    make(map[string]*user),
		byID:     make(map[string]*user),
		refresh:  make(map[string]string),
		counters: make(map[string]int),
	}
}

// AddUser регистрирует пользователя и возвращает его профиль.
func (s *Server) AddUser(email, password, name string) (models.Profile, error) {
	const op = "testkit/authserver/AddUser"

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	p := models.Profile{
		ID:       uuid.NewString(),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Name:     name,
		Verified: true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.Email]; ok {
		return models.Profile{}, fmt.Errorf("%s: user %q already exists", op, p.Email)
	}

	u := &user{profile: p, hash: hash}
	s.users[p.Email] = u
	s.byID[p.ID] = u

	return p, nil
}

// Expire делает недействительными все выданные access-токены.
func (s *Server) Expire() {
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
}

// RejectRefresh включает/выключает отказ в обмене refresh-токена.
func (s *Server) RejectRefresh(on bool) {
	s.mu.Lock()
	s.reject = on
	s.mu.Unlock()
}

// HoldRefresh задерживает ответы эндпойнта обновления до вызова release.
func (s *Server) HoldRefresh() (release func()) {
	ch := make(chan struct{})

	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Count возвращает число обращений к эндпойнту (путь из Path*).
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[path]
}

// SignOutTokens возвращает refresh-токены, пришедшие в телах запросов выхода.
func (s *Server) SignOutTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.signOuts...)
}

// ProductTokens возвращает access-токены, с которыми вызывался /products.
func (s *Server) ProductTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.seen...)
}

// RefreshValid сообщает, действителен ли refresh-токен.
func (s *Server) RefreshValid(rt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[rt]
	return ok
}

// IssueFor выдаёт пару пользователю по e-mail в обход входа (для подготовки тестов).
func (s *Server) IssueFor(email string) (models.TokenPair, error) {
	const op = "testkit/authserver/IssueFor"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return models.TokenPair{}, fmt.Errorf("%s: unknown user %q", op, email)
	}

	pair, err := s.issueLocked(u.profile.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

type accessClaims struct {
	Epoch int `json:"epoch"`
	jwt.RegisteredClaims
}

// issueLocked выдаёт новую пару. Вызывается под s.mu.
func (s *Server) issueLocked(userID string) (models.TokenPair, error) {
	now := time.Now().UTC()

	claims := accessClaims{
		Epoch: s.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return models.TokenPair{}, err
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return models.TokenPair{}, err
	}
	rt := base64.RawURLEncoding.EncodeToString(b)
	s.refresh[rt] = userID

	return models.TokenPair{Access: access, Refresh: rt}, nil
}

// authenticate проверяет access-токен и возвращает пользователя.
func (s *Server) authenticate(token string) (*user, error) {
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, errInvalidToken
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if claims.Epoch != s.epoch {
		return nil, errStaleToken
	}

	u, ok := s.byID[claims.Subject]
	if !ok {
		return nil, errInvalidToken
	}

	return u, nil
}

func (s *Server) count(path string) {
	s.mu.Lock()
	s.counters[path]++
	s.mu.Unlock()
}

// Handler возвращает http.Handler сервера.
func (s *Server) Handler() http.Handler {
	return newRouter(s)
}
