package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a flopchat access token. Username is kept for
// older tokens; Subject carries the same value.
type Claims struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// subject returns the username the token was issued for.
func (c *Claims) subject() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// JWTConfig holds the HS256 signing parameters.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken signs an access token for username valid for cfg.TTL.
func GenerateToken(cfg *JWTConfig, userID int64, username string) (string, error) {
	now := time.Now()
	registered := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
	}
	if cfg.Audience != "" {
		registered.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           userID,
		Username:         username,
		RegisteredClaims: registered,
	}).SignedString(cfg.Secret)
}
