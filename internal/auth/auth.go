// Package auth issues and checks the bearer tokens that protect the operator
// endpoints. Registrants and the payment gateway never use it.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenDuration = 12 * time.Hour
	OperatorRole  = "operator"
	issuer        = "confreg"
)

var ErrUnauthorized = errors.New("unauthorized")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("admin JWT secret is required")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// GenerateToken signs an operator token for subject. A zero ttl uses
// TokenDuration.
func (a *Authenticator) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = TokenDuration
	}
	now := a.now()
	claims := Claims{
		Role: OperatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Role != OperatorRole || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return claims, nil
}

// Authorize checks an Authorization header of the form "Bearer <token>".
func (a *Authenticator) Authorize(header string) (*Claims, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: no bearer token found", ErrUnauthorized)
	}
	return a.ParseToken(strings.TrimSpace(token))
}
