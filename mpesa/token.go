package mpesa

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SafetyMargin is subtracted from the provider-granted lifetime so a cached
// token is never presented after it expires upstream.
const SafetyMargin = 10 * time.Minute

// TokenProvider yields a currently valid access token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by providers that cache tokens.
type TokenInvalidator interface {
	Invalidate(ctx context.Context)
}

// TokenFetcher obtains a fresh token and its provider-granted lifetime.
// *Client satisfies it.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (string, time.Duration, error)
}

// CachedTokenProvider reuses a token until its conservative expiry. The lock
// is not held during a fetch, so concurrent refreshes may both reach the
// provider; whichever stores last wins.
type CachedTokenProvider struct {
	fetcher TokenFetcher
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewCachedTokenProvider(fetcher TokenFetcher) *CachedTokenProvider {
	return &CachedTokenProvider{fetcher: fetcher, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (p *CachedTokenProvider) WithClock(now func() time.Time) *CachedTokenProvider {
	p.now = now
	return p
}

func (p *CachedTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token, expiresAt := p.token, p.expiresAt
	p.mu.Unlock()

	if token != "" && p.now().Before(expiresAt) {
		return token, nil
	}

	fresh, lifetime, err := p.fetcher.FetchToken(ctx)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.token = fresh
	p.expiresAt = p.now().Add(conservative(lifetime))
	p.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached token.
func (p *CachedTokenProvider) Invalidate(context.Context) {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func conservative(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	if d := lifetime - SafetyMargin; d > 0 {
		return d
	}
	return 0
}

// RedisTokenProvider shares one token across processes through Redis. The key
// carries a TTL equal to the conservative lifetime. Redis failures degrade to
// fetching directly.
type RedisTokenProvider struct {
	rdb     redis.UniversalClient
	key     string
	fetcher TokenFetcher
	logger  *slog.Logger
}

func NewRedisTokenProvider(rdb redis.UniversalClient, key string, fetcher TokenFetcher, logger *slog.Logger) *RedisTokenProvider {
	if key == "" {
		key = "mpesa:access_token"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTokenProvider{rdb: rdb, key: key, fetcher: fetcher, logger: logger}
}

func (p *RedisTokenProvider) Token(ctx context.Context) (string, error) {
	cached, err := p.rdb.Get(ctx, p.key).Result()
	switch {
	case err == nil && cached != "":
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		p.logger.Warn("token cache read failed", slog.String("key", p.key), slog.Any("error", err))
	}

	fresh, lifetime, err := p.fetcher.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	if ttl := conservative(lifetime); ttl > 0 {
		if err := p.rdb.Set(ctx, p.key, fresh, ttl).Err(); err != nil {
			p.logger.Warn("token cache write failed", slog.String("key", p.key), slog.Any("error", err))
		}
	}
	return fresh, nil
}

// Invalidate deletes the shared token so every process refetches.
func (p *RedisTokenProvider) Invalidate(ctx context.Context) {
	if err := p.rdb.Del(ctx, p.key).Err(); err != nil {
		p.logger.Warn("token cache delete failed", slog.String("key", p.key), slog.Any("error", err))
	}
}
