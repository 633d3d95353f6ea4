package models

// TokenPair - пара токенов, выданная сервером при входе или обновлении.
//
// Описание:
//   - Access - короткоживущий токен для Authorization: Bearer;
//   - Refresh - долгоживущий секрет, которым получают новую пару.
//
// Срок жизни токенов клиент не декодирует: истечение access-токена
// обнаруживается по ответу 401 на авторизованный запрос.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty сообщает, что пара не содержит ни одного токена.
func (p TokenPair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

// SignInResult - ответ эндпойнта входа.
type SignInResult struct {
	Profile Profile   `json:"profile"`
	Tokens  TokenPair `json:"tokens"`
}
