// Package tokengate issues short-lived single-use access tokens kept in an
// expiring key-value cache.
package tokengate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payla/internal/domain"
)

const keyPrefix = "payla:token:"

// ErrMiss is returned by a Cache when the key is absent or expired.
var ErrMiss = errors.New("tokengate: cache miss")

// Cache is an expiring key-value store.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns the value and removes the key in one step.
	Take(ctx context.Context, key string) (string, error)
}

type Gate struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewGate(cache Cache, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Gate{cache: cache, ttl: ttl, now: time.Now}
}

// Generate stores a new token and returns it with its expiry.
func (g *Gate) Generate(ctx context.Context) (string, time.Time, error) {
	token := uuid.NewString()
	expires := g.now().UTC().Add(g.ttl)
	if err := g.cache.Set(ctx, keyPrefix+token, expires.Format(time.RFC3339), g.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}
	return token, expires, nil
}

// Verify consumes token. Unknown, expired and already used tokens fail with
// domain.ErrAuthentication.
func (g *Gate) Verify(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("missing token: %w", domain.ErrAuthentication)
	}
	_, err := g.cache.Take(ctx, keyPrefix+token)
	if errors.Is(err, ErrMiss) {
		return fmt.Errorf("invalid or expired token: %w", domain.ErrAuthentication)
	}
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	return nil
}
