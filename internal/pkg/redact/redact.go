// redact маскирует чувствительные данные перед записью в лог:
// e-mail пользователя, access/refresh-токены и заголовок Authorization.
package redact

import "strings"

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать ровно один '@', иначе возвращается "***";
//   - локальная часть сокращается до двух первых рун + "***";
//   - если в локальной части ≤ 2 рун, возвращается "***@<domain>".
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает заглушку для токена. Пустой токен остаётся пустым,
// чтобы в логах было видно, что токена не было вовсе.
func Token(tok string) string {
	if tok == "" {
		return ""
	}

	return "[REDACTED_TOKEN]"
}

// Authorization маскирует значение заголовка Authorization, сохраняя схему.
func Authorization(h string) string {
	if h == "" {
		return ""
	}

	scheme, _, ok := strings.Cut(h, " ")
	if !ok {
		return "[REDACTED]"
	}

	return scheme + " [REDACTED_TOKEN]"
}
