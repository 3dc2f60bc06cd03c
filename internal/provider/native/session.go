package native

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
)

// sessionClaims is the payload carried inside native session tokens.
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// sessionSigner issues and validates HS256 session tokens. The signed token is
// the binding's ProviderSession material; nothing outside this package decodes it.
type sessionSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newSessionSigner(secret string, ttl time.Duration) (*sessionSigner, error) {
	if secret == "" {
		return nil, errors.New("session signing secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &sessionSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a session token for the user.
func (s *sessionSigner) Issue(userID, email string) (domain.ProviderSession, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "broker-auth",
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return domain.ProviderSession{}, fmt.Errorf("sign session token: %w", err)
	}

	return domain.ProviderSession{
		Binding:   domain.BindingNative,
		Material:  []byte(token),
		ExpiresAt: expiresAt,
	}, nil
}

// Parse validates the token and returns its claims. Expired or malformed
// tokens map to ErrBindingSessionExpired.
func (s *sessionSigner) Parse(material []byte) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(string(material), claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, port.ErrBindingSessionExpired
	}

	return claims, nil
}
