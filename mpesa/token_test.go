package mpesa

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingFetcher struct {
	calls    atomic.Int32
	lifetime time.Duration
	err      error
}

func (f *countingFetcher) FetchToken(ctx context.Context) (string, time.Duration, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", 0, f.err
	}
	return "tok-" + string(rune('0'+n)), f.lifetime, nil
}

func TestCachedTokenProvider_ReusesUntilExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &countingFetcher{lifetime: time.Hour}
	p := NewCachedTokenProvider(fetcher).WithClock(func() time.Time { return now })

	first, err := p.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(49 * time.Minute)
	second, err := p.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first != second || fetcher.calls.Load() != 1 {
		t.Fatalf("expected cached token, got %q/%q after %d fetches", first, second, fetcher.calls.Load())
	}

	// 50 minute conservative lifetime: one hour minus the safety margin.
	now = now.Add(time.Minute)
	third, err := p.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if third == first || fetcher.calls.Load() != 2 {
		t.Fatalf("expected refresh at expiry, got %q after %d fetches", third, fetcher.calls.Load())
	}
}

func TestCachedTokenProvider_FetchErrorNotCached(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("boom")}
	p := NewCachedTokenProvider(fetcher)
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if fetcher.calls.Load() != 2 {
		t.Fatalf("expected each call to fetch, got %d", fetcher.calls.Load())
	}
}

func TestRedisTokenProvider_SharesToken(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	fetcher := &countingFetcher{lifetime: time.Hour}
	a := NewRedisTokenProvider(rdb, "test:token", fetcher, nil)
	b := NewRedisTokenProvider(rdb, "test:token", fetcher, nil)

	first, err := a.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first != second || fetcher.calls.Load() != 1 {
		t.Fatalf("expected shared token, got %q/%q after %d fetches", first, second, fetcher.calls.Load())
	}
	if ttl := mr.TTL("test:token"); ttl != 50*time.Minute {
		t.Fatalf("ttl = %s, want 50m", ttl)
	}

	mr.FastForward(51 * time.Minute)
	if _, err := a.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls.Load() != 2 {
		t.Fatalf("expected refetch after ttl, got %d fetches", fetcher.calls.Load())
	}
}

func TestRedisTokenProvider_FallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	fetcher := &countingFetcher{lifetime: time.Hour}
	p := NewRedisTokenProvider(rdb, "", fetcher, nil)
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("expected direct fetch, got %v", err)
	}
	if tok == "" {
		t.Fatal("expected token")
	}
}

func TestRedisTokenProvider_Invalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	fetcher := &countingFetcher{lifetime: time.Hour}
	p := NewRedisTokenProvider(rdb, "test:token", fetcher, nil)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Invalidate(context.Background())
	if mr.Exists("test:token") {
		t.Fatal("expected shared token to be deleted")
	}
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls.Load() != 2 {
		t.Fatalf("expected refetch after invalidate, got %d fetches", fetcher.calls.Load())
	}
}
