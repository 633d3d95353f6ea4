// Входные/выходные модели эндпойнтов авторизации (JSON).
package models

// SignInRequest - тело запроса входа.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenRequest - тело запросов обновления и выхода: оба эндпойнта
// принимают текущий refresh-токен.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse - ответ эндпойнта обновления.
type RefreshResponse struct {
	Tokens TokenPair `json:"tokens"`
}

// ProfileResponse - ответ эндпойнта проверки сессии.
type ProfileResponse struct {
	Profile Profile `json:"profile"`
}

// ErrorResponse - тело ошибки сервера.
type ErrorResponse struct {
	Error string `json:"error"`
}
