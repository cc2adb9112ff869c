// Package auth resolves the learner an interaction belongs to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel error kinds for this package.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret not configured")
)

// Resolver reports the currently authenticated user, if any.
type Resolver interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

type userKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFrom extracts the user id stored by WithUserID.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ContextResolver resolves the user from the request context.
type ContextResolver struct{}

// CurrentUserID implements Resolver.
func (ContextResolver) CurrentUserID(ctx context.Context) (string, bool) {
	return UserIDFrom(ctx)
}

// StaticResolver always resolves the same user. An empty value resolves nobody.
type StaticResolver string

// CurrentUserID implements Resolver.
func (s StaticResolver) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

// TokenVerifier issues and verifies HS256 bearer tokens whose subject is the
// user id.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a TokenVerifier.
type Option func(*TokenVerifier)

// WithIssuer sets the iss claim written and required.
func WithIssuer(issuer string) Option {
	return func(v *TokenVerifier) {
		v.issuer = issuer
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *TokenVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewTokenVerifier creates a verifier keyed by secret.
func NewTokenVerifier(secret string, opts ...Option) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	v := &TokenVerifier{secret: []byte(secret), issuer: "tally", now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Issue mints a token for userID valid for ttl.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its subject.
func (v *TokenVerifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
