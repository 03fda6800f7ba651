package tokengate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
)

func TestGateTokensAreSingleUse(t *testing.T) {
	cache := NewMemoryCache()
	g := NewGate(cache, 5*time.Minute)
	ctx := context.Background()

	token, expires, err := g.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" || time.Until(expires) <= 0 {
		t.Fatalf("Generate = %q, %v", token, expires)
	}
	if err := g.Verify(ctx, token); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := g.Verify(ctx, token); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("second verify: %v", err)
	}
	if err := g.Verify(ctx, ""); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("empty token: %v", err)
	}
}

func TestGateRejectsExpiredToken(t *testing.T) {
	cache := NewMemoryCache()
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }
	g := NewGate(cache, time.Minute)
	ctx := context.Background()

	token, _, err := g.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := g.Verify(ctx, token); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expired token: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expired entry kept: %v", cache.entries)
	}
}

type brokenCache struct{}

func (brokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Take(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func TestGateSurfacesCacheErrors(t *testing.T) {
	g := NewGate(brokenCache{}, time.Minute)
	if _, _, err := g.Generate(context.Background()); err == nil {
		t.Fatal("expected a store error")
	}
	err := g.Verify(context.Background(), "abc")
	if err == nil || errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("cache outage must not look like a bad token: %v", err)
	}
}
