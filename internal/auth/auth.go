// Package auth supplies and verifies live session credentials.
//
// Clients treat the credential as an opaque token obtained from a
// TokenSource. The hub verifies tokens issued by an Issuer (HS256 JWT).
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrNoToken      = errors.New("no auth token available")
	ErrInvalidToken = errors.New("invalid auth token")
	ErrNoSecret     = errors.New("signing secret is required")
)

// TokenSource supplies the credential sent in the auth handshake.
// It is consulted on every connection attempt so rotated tokens are picked up.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the static token.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileTokenSource reads the token from a file on each call.
type FileTokenSource struct {
	Path string
}

// Token reads and trims the token file.
func (f FileTokenSource) Token(ctx context.Context) (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Claims are the identity fields carried by a live token.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Issuer signs and verifies HS256 live tokens.
type Issuer struct {
	secret []byte
	name   string
	now    func() time.Time
}

// NewIssuer creates an Issuer for the given shared secret.
func NewIssuer(secret, name string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Issuer{
		secret: []byte(secret),
		name:   name,
		now:    time.Now,
	}, nil
}

// Issue creates a signed token for userID. A zero ttl issues a token without expiry.
func (i *Issuer) Issue(userID string, admin bool, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   i.name,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.name != "" {
		opts = append(opts, jwt.WithIssuer(i.name))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
