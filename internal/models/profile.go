// models содержит доменные сущности клиентской сессии.
// Эти типы используются слоями сессии, хранилища, транспорта и фасада.
package models

// Profile - профиль аутентифицированного пользователя, как его отдаёт сервер.
// После получения не меняется, кроме Avatar.
type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
	Avatar   string `json:"avatar,omitempty"`
}

// Clone возвращает независимую копию профиля (nil для nil).
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}

	cp := *p
	return &cp
}
