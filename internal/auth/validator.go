package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/flopchat-server/internal/store"
)

// ErrAnonymous is returned when a credential does not resolve to a known user.
var ErrAnonymous = errors.New("anonymous connection")

// Validator resolves a bearer credential into a username.
type Validator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// JWTValidator validates HS256 tokens and, when users is set, checks that the
// subject still exists.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
	users  store.UserStore
}

// NewValidator creates a JWT-backed validator. users may be nil. Issuer and
// audience are enforced when configured.
func NewValidator(cfg *JWTConfig, users store.UserStore) *JWTValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTValidator{secret: cfg.Secret, parser: jwt.NewParser(opts...), users: users}
}

// Claims parses and verifies a token without the user lookup.
func (v *JWTValidator) Claims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Validate returns the username carried by the token or an error wrapping ErrAnonymous.
func (v *JWTValidator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", ErrAnonymous)
	}

	claims, err := v.Claims(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAnonymous, err)
	}
	username := claims.subject()
	if username == "" {
		return "", fmt.Errorf("token has no subject: %w", ErrAnonymous)
	}

	if v.users != nil {
		if _, err := v.users.GetUserByUsername(ctx, username); err != nil {
			return "", fmt.Errorf("%w: %w", ErrAnonymous, err)
		}
	}
	return username, nil
}

var _ Validator = (*JWTValidator)(nil)
