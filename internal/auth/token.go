// Package auth verifies and issues the bearer credentials that identify callers.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// Claims represents JWT claims. The subject is the caller's user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier resolves a bearer credential to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWT signs and verifies HS256 tokens with a shared secret.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWT creates a token verifier/issuer. An empty issuer disables the issuer check.
func NewJWT(secret, issuer string, ttl time.Duration) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue mints a token for userID.
func (j *JWT) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id required", model.ErrInvalidInput)
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify checks signature, expiry and issuer and returns the subject.
func (j *JWT) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", model.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", model.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: invalid token", model.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", model.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// BearerToken extracts the credential from the Authorization header.
func BearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("%w: missing authorization header", model.ErrUnauthorized)
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: invalid authorization header format", model.ErrUnauthorized)
	}
	return strings.TrimSpace(parts[1]), nil
}

// FromRequest reads the credential from the Authorization header or, for websocket
// handshakes where browsers cannot set headers, the token query parameter.
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return BearerToken(h)
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, nil
	}
	return "", fmt.Errorf("%w: missing credential", model.ErrUnauthorized)
}
