// Package session выпускает и проверяет сессионные JWT-токены и отзывает их при выходе.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "moneytoflows"
	// DefaultTTL задаёт время жизни сессии по умолчанию.
	DefaultTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidToken возвращается для неподписанного, просроченного или испорченного токена.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevokedToken возвращается для токена, отозванного при выходе.
	ErrRevokedToken = errors.New("token revoked")
)

// Claims содержит данные сессии.
type Claims struct {
	UserID int64  `json:"uid"`
	Login  string `json:"login"`
	Admin  bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет токены сессий.
type Manager struct {
	secret  []byte
	ttl     time.Duration
	revoker Revoker
	now     func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithTTL задаёт время жизни токена.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithRevoker задаёт хранилище отозванных токенов.
func WithRevoker(r Revoker) Option {
	return func(m *Manager) {
		if r != nil {
			m.revoker = r
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager создаёт Manager. При пустом секрете генерируется случайный ключ,
// и сессии не переживают перезапуск процесса.
func NewManager(secret string, opts ...Option) (*Manager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}

	m := &Manager{
		secret:  key,
		ttl:     DefaultTTL,
		revoker: NewMemoryRevoker(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL возвращает время жизни токена.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue подписывает токен для пользователя.
func (m *Manager) Issue(userID int64, login string, admin bool) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		UserID: userID,
		Login:  login,
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse проверяет подпись, срок действия и отзыв токена.
func (m *Manager) Parse(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// Revoke отзывает токен до окончания его срока действия.
func (m *Manager) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return ErrInvalidToken
	}
	return m.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}
