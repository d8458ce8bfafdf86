package session

import (
	"errors"
	"strings"
	"time"

	"github.com/ballotd/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the name of the HttpOnly cookie carrying the session token.
const CookieName = "ballot_session"

const defaultTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload of a session. The subject is the username.
type Claims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal returns the authenticated caller described by the claims.
func (c Claims) Principal() types.Principal {
	return types.Principal{Username: c.Subject, Role: c.Role}
}

// Manager issues and verifies HS256 session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL reports how long issued sessions stay valid.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new session for user.
func (m *Manager) Issue(user types.User) (string, Claims, error) {
	now := m.now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Parse verifies a token and returns its claims.
func (m *Manager) Parse(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	if _, ok := types.ParseRole(string(claims.Role)); !ok {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("unknown role"))
	}
	return claims, nil
}
