package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iho/schoolbilling/internal/domain"
)

// Claims carries the actor of a request. A token is bound to one school.
type Claims struct {
	UserID   string      `json:"user_id"`
	SchoolID string      `json:"school_id"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the domain actor described by c.
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, SchoolID: c.SchoolID, Role: c.Role}
}

// JWTManager manages JWT token creation and validation
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate issues a token for actor.
func (m *JWTManager) Generate(actor domain.Actor) (string, error) {
	if actor.UserID == "" || actor.SchoolID == "" {
		return "", fmt.Errorf("%w: user and school are required", domain.ErrInvalidArgument)
	}

	if !actor.Role.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, actor.Role)
	}

	now := m.now()
	claims := Claims{
		UserID:   actor.UserID,
		SchoolID: actor.SchoolID,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify verifies a JWT token and returns the claims
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	if claims.SchoolID == "" || !claims.Role.IsValid() {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}
