// Package auth supplies bearer tokens for the outbound service clients.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the bearer token to attach to an outbound request. An
// empty token means the endpoint is unauthenticated and no Authorization
// header is sent.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed, pre-issued token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// None disables authentication.
var None TokenSource = Static("")

const (
	defaultTokenTTL = 15 * time.Minute
	// refreshSkew re-mints tokens this long before expiry so an in-flight
	// request never carries a token that expires mid-handling.
	refreshSkew = 30 * time.Second
)

// HS256Config describes the tokens an HS256Source mints.
type HS256Config struct {
	Secret   []byte
	Issuer   string
	Subject  string
	Audience []string
	// TTL bounds token lifetime. Zero means defaultTokenTTL.
	TTL time.Duration
}

// HS256Source mints short-lived HS256 tokens and caches each one until
// shortly before it expires. Safe for concurrent use.
type HS256Source struct {
	cfg HS256Config
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewHS256Source(cfg HS256Config) (*HS256Source, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth: signing secret is required")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, fmt.Errorf("auth: token subject is required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTokenTTL
	}
	if cfg.TTL <= refreshSkew {
		return nil, fmt.Errorf("auth: token ttl %s must exceed the refresh skew %s", cfg.TTL, refreshSkew)
	}
	return &HS256Source{cfg: cfg, now: time.Now}, nil
}

func (s *HS256Source) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-refreshSkew)) {
		return s.token, nil
	}
	claims := jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   s.cfg.Subject,
		Audience:  jwt.ClaimStrings(s.cfg.Audience),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	s.token = signed
	s.expires = now.Add(s.cfg.TTL)
	return signed, nil
}
