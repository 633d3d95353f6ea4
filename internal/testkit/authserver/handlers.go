package authserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/auth-session/internal/models"
	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
	"github.com/pribylovaa/auth-session/internal/pkg/redact"
)

// Product - элемент защищённого ресурса.
type Product struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ProductsResponse - ответ /products; Token - токен, которым подписан запрос.
type ProductsResponse struct {
	Token    string    `json:"token"`
	Products []Product `json:"products"`
}

func newRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(), requestID(), logging(s.log))

	r.Post(PathSignIn, s.signIn)
	r.Post(PathRefresh, s.refreshToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post(PathSignOut, s.signOut)
		r.Get(PathProfile, s.profile)
		r.Get(PathProducts, s.products)
	})

	return r
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	s.count(PathSignIn)

	var in models.SignInRequest
	if err := decodeStrict(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument")
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))

	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()

	if !ok || !checkPassword(u.hash, in.Password) {
		logctx.From(r.Context()).Info("sign_in_rejected", slog.String("email", redact.Email(email)))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.mu.Lock()
	pair, err := s.issueLocked(u.profile.ID)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, models.SignInResult{Profile: u.profile, Tokens: pair})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	s.count(PathRefresh)

	var in models.RefreshTokenRequest
	if err := decodeStrict(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument")
		return
	}

	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uid, ok := s.refresh[in.RefreshToken]
	if s.reject || !ok {
		logctx.From(r.Context()).Info("refresh_rejected")
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	delete(s.refresh, in.RefreshToken)
	pair, err := s.issueLocked(uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, models.RefreshResponse{Tokens: pair})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	s.count(PathSignOut)

	var in models.RefreshTokenRequest
	if err := decodeStrict(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument")
		return
	}

	u, _ := r.Context().Value(ctxUser).(*user)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.signOuts = append(s.signOuts, in.RefreshToken)

	uid, ok := s.refresh[in.RefreshToken]
	if !ok || u == nil || uid != u.profile.ID {
		writeError(w, http.StatusBadRequest, "unknown refresh token")
		return
	}
	delete(s.refresh, in.RefreshToken)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.count(PathProfile)

	u, _ := r.Context().Value(ctxUser).(*user)
	writeJSON(w, http.StatusOK, models.ProfileResponse{Profile: u.profile})
}

func (s *Server) products(w http.ResponseWriter, r *http.Request) {
	s.count(PathProducts)

	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	s.seen = append(s.seen, tok)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ProductsResponse{
		Token: tok,
		Products: []Product{
			{ID: "p-1", Title: "Keyboard"},
			{ID: "p-2", Title: "Monitor"},
		},
	})
}

func checkPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// decodeStrict - строгий JSON-декодер: неизвестные поля запрещены.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
