package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/auth-session/internal/clients/authapi"
	apierrors "github.com/pribylovaa/auth-session/internal/errors"
	"github.com/pribylovaa/auth-session/internal/models"
	logctx "github.com/pribylovaa/auth-session/internal/pkg/log"
	"github.com/pribylovaa/auth-session/internal/pkg/redact"
	"github.com/pribylovaa/auth-session/internal/session"
	"github.com/pribylovaa/auth-session/internal/signer"
	"github.com/pribylovaa/auth-session/internal/storage"
)

// SignIn выполняет вход.
//
// Переходы состояния:
//   - в начале: профиль снят, pending=true;
//   - успех: {профиль, access-токен}, pending=false; пара сохранена в хранилище;
//   - любая ошибка (в том числе сетевая): профиль снят, pending=false.
//
// Ошибка возвращается значением: ErrInvalidCredentials, ErrNetwork и т.д.
// Сбой сохранения пары входу не мешает: сессия работает в памяти,
// но не переживёт рестарт процесса.
func (s *Service) SignIn(ctx context.Context, email, password string) error {
	const op = "service/auth/SignIn"

	ctx, l := s.logger(ctx, op)
	l = l.With(slog.String("email", redact.Email(email)))

	if _, err := s.state.Update(session.Patch{Auth: session.SignedOut(), Pending: session.PendingBegin}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var (
		auth   = session.SignedOut()
		tokens *models.TokenPair
	)
	// Пара сохраняется тем же шагом писателя, что и ставится сессия:
	// параллельный выход или обновление не смешают токены разных сессий.
	defer func() {
		_, err := s.state.UpdateFunc(func(session.Snapshot) session.Patch {
			if tokens != nil {
				if err := storage.SaveTokens(context.WithoutCancel(ctx), s.store, tokens.Access, tokens.Refresh); err != nil {
					l.Warn("sign_in_persist_failed", slog.String("err", err.Error()))
				}
			}
			return session.Patch{Auth: auth, Pending: session.PendingEnd}
		})
		if err != nil {
			l.Error("sign_in_state_update_failed", slog.String("err", err.Error()))
		}
	}()

	res, err := s.api.SignIn(ctx, email, password)
	if err != nil {
		l.Info("sign_in_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	profile := res.Profile
	tokens = &res.Tokens
	auth = &session.Auth{Profile: &profile, AccessToken: res.Tokens.Access}

	l.Info("sign_in_succeeded", slog.String("user_id", profile.ID))
	return nil
}

// SignOut завершает сессию. Локальная часть выполняется всегда.
//
// Поведение:
//   - pending=true, профиль на время вызова не трогается;
//   - есть сохранённый refresh-токен - запрос выхода уходит через авторизованный
//     конвейер (истёкший access-токен сначала обновится, и повтор понесёт уже
//     новый refresh-токен);
//   - ошибки сервера и сети логируются и не возвращаются;
//   - оба токена удаляются из хранилища независимо от ответа сервера;
//   - итог всегда {профиль снят, pending=false}.
//
// Отмена ctx обрывает только сетевую часть: очистка доводится до конца.
// Без сессии и без сохранённого refresh-токена вызов ничего не меняет
// и в сеть не ходит.
func (s *Service) SignOut(ctx context.Context) {
	const op = "service/auth/SignOut"

	ctx, l := s.logger(ctx, op)
	local := context.WithoutCancel(ctx)

	rt, err := s.refreshToken(local)
	if err != nil {
		l.Warn("sign_out_token_read_failed", slog.String("err", err.Error()))
	}
	if rt == "" && !s.state.Read().SignedIn() {
		l.Debug("sign_out_noop")
		return
	}

	_, _ = s.state.Update(session.Patch{Pending: session.PendingBegin})
	// Токены удаляются тем же шагом писателя, что и снимается сессия:
	// обновление, завершившееся позже, увидит смену сессии и пару не сохранит.
	defer func() {
		_, err := s.state.UpdateFunc(func(session.Snapshot) session.Patch {
			if err := storage.RemoveTokens(local, s.store); err != nil {
				l.Warn("sign_out_cleanup_failed", slog.String("err", err.Error()))
			}
			return session.Patch{Auth: session.SignedOut(), Pending: session.PendingEnd}
		})
		if err != nil {
			l.Error("sign_out_state_update_failed", slog.String("err", err.Error()))
		}
	}()

	if rt != "" {
		s.signOutRemote(ctx, rt)
	}

	l.Info("signed_out")
}

// signOutRemote - сетевая часть выхода. Ошибки только логируются.
func (s *Service) signOutRemote(ctx context.Context, rt string) {
	l := logctx.From(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.signOutTimeout)
	defer cancel()

	req, err := s.api.NewSignOutRequest(ctx, rt)
	if err != nil {
		l.Warn("sign_out_request_failed", slog.String("err", err.Error()))
		return
	}

	resp, err := s.pipeline.Do(req)
	if err != nil {
		l.Warn("sign_out_server_error", slog.String("err", err.Error()))
		return
	}
	defer resp.Body.Close()

	if err := apierrors.FromStatus(resp.StatusCode); err != nil {
		l.Warn("sign_out_server_error", slog.String("err", err.Error()))
	}
}

// Restore восстанавливает сессию после рестарта по сохранённому access-токену:
// запрашивает профиль через авторизованный конвейер (истёкший токен обновится
// один раз) и ставит {профиль, токен}.
//
// Любая ошибка оставляет сессию снятой с pending=false. Сохранённые токены
// удаляются только при окончательном отказе (ErrSessionExpired), чтобы сетевой
// сбой не стоил пользователю входа.
func (s *Service) Restore(ctx context.Context) (err error) {
	const op = "service/auth/Restore"

	if s.state.Read().SignedIn() {
		return nil
	}

	ctx, l := s.logger(ctx, op)

	at, ok, err := s.store.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok || at == "" {
		return fmt.Errorf("%s: no stored session: %w", op, apierrors.ErrSessionExpired)
	}

	var generation uint64
	_, _ = s.state.UpdateFunc(func(snap session.Snapshot) session.Patch {
		generation = snap.Generation
		return session.Patch{Pending: session.PendingBegin}
	})

	auth := session.SignedOut()
	defer func() {
		changed := false
		_, uerr := s.state.UpdateFunc(func(snap session.Snapshot) session.Patch {
			p := session.Patch{Pending: session.PendingEnd}
			if snap.Generation != generation {
				// Пока шёл запрос, сессию завершили или открыли заново.
				changed = true
				return p
			}
			p.Auth = auth
			return p
		})
		if uerr != nil {
			l.Error("restore_state_update_failed", slog.String("err", uerr.Error()))
		}

		if changed && err == nil {
			l.Info("restore_discarded_session_changed")
			err = fmt.Errorf("%s: %w", op, apierrors.ErrSessionExpired)
		}
	}()

	req, err := s.api.NewProfileRequest(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	signer.Sign(req, at)

	resp, err := s.pipeline.Do(req)
	if err != nil {
		l.Info("restore_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	// Токен, с которым профиль реально получен: после обновления он новый.
	token := at
	if resp.Request != nil {
		if t := signer.TokenFromHeader(resp.Request.Header.Get(signer.HeaderAuthorization)); t != "" {
			token = t
		}
	}

	profile, err := authapi.DecodeProfile(resp)
	if err != nil {
		l.Info("restore_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	auth = &session.Auth{Profile: profile, AccessToken: token}

	l.Info("session_restored", slog.String("user_id", profile.ID))
	return nil
}

func (s *Service) refreshToken(ctx context.Context) (string, error) {
	rt, ok, err := s.store.Get(ctx, storage.KeyRefreshToken)
	if err != nil || !ok {
		return "", err
	}

	return rt, nil
}

func (s *Service) logger(ctx context.Context, op string) (context.Context, *slog.Logger) {
	l := s.log.With(slog.String("op", op))
	return logctx.Into(ctx, l), l
}
