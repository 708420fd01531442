// Package middleware содержит HTTP middleware сервиса MoneyToFlows.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mmeshcher/moneytoflows/internal/session"
)

type contextKey string

const claimsKey contextKey = "claims"

const authCookieName = "auth_token"

// AuthMiddleware выполняет проверку аутентификации пользователя по cookie с JWT.
type AuthMiddleware struct {
	sessions *session.Manager
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware поверх менеджера сессий.
func NewAuthMiddleware(sessions *session.Manager) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
	}
}

// Middleware проверяет cookie авторизации и добавляет данные сессии в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		claims, err := a.sessions.Parse(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidToken) && !errors.Is(err, session.ErrRevokedToken) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// AdminOnly пропускает только сессии администратора. Ставится после Middleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !claims.Admin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie выпускает токен сессии и устанавливает cookie авторизации.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, login string, admin bool) error {
	token, expires, err := a.sessions.Issue(userID, login, admin)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(a.sessions.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout отзывает токен текущей сессии и удаляет cookie.
func (a *AuthMiddleware) Logout(w http.ResponseWriter, r *http.Request) error {
	if claims, ok := GetClaimsFromContext(r.Context()); ok {
		if err := a.sessions.Revoke(r.Context(), claims); err != nil {
			return err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// GetClaimsFromContext извлекает данные сессии из контекста запроса.
func GetClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*session.Claims)
	return claims, ok && claims != nil
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	claims, ok := GetClaimsFromContext(ctx)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

// WithClaims возвращает контекст с данными сессии.
func WithClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
