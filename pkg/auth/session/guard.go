// Package session tracks which access tokens still have a live server-side
// session. Tokens are stateless JWTs; the guard is what makes logout and
// forced revocation stick before expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/estatelink/estatelink-backend/pkg/config"
	redisclient "github.com/estatelink/estatelink-backend/pkg/redis"
)

// Sessions outlive the access token slightly so a token never validates
// against an already-expired session entry.
const sessionTTLSlack = 5 * time.Minute

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	AccessSessionKey(accessID string) string
}

// Guard records and checks live sessions keyed by the token's jti.
type Guard struct {
	store sessionStore
	keyer sessionKeyer
	ttl   time.Duration
}

// AccessSessionChecker exposes the read-only surface needed by middleware.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// NewGuard constructs a session guard backed by Redis.
func NewGuard(client *redisclient.Client, cfg config.JWTConfig) (*Guard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return nil, fmt.Errorf("jwt expiration minutes must be positive")
	}
	return &Guard{
		store: client,
		keyer: client,
		ttl:   time.Duration(cfg.ExpirationMinutes)*time.Minute + sessionTTLSlack,
	}, nil
}

// Establish records a live session for the given access ID.
func (g *Guard) Establish(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return fmt.Errorf("access id is required")
	}
	return g.store.Set(ctx, g.keyer.AccessSessionKey(accessID), "1", g.ttl)
}

// HasSession reports whether the access ID still maps to a live session.
func (g *Guard) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, nil
	}
	_, err := g.store.Get(ctx, g.keyer.AccessSessionKey(accessID))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revoke removes the session so the token stops validating immediately.
func (g *Guard) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return fmt.Errorf("access id is required")
	}
	return g.store.Del(ctx, g.keyer.AccessSessionKey(accessID))
}
