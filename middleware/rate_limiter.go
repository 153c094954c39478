package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fundraiser/utils"
)

// In-memory sliding windows with trusted-proxy support. When a Redis client
// is supplied the IP limiter switches to shared fixed-window counters so
// several instances enforce one budget.

type timestamps []int64 // unix nanos

func nowUnix() int64 { return time.Now().UnixNano() }

// IPRateLimiter limits requests per client IP.
type IPRateLimiter struct {
	max         int
	window      time.Duration
	trustedCIDR []string
	rdb         redis.UniversalClient
	logger      *slog.Logger

	mu    sync.Mutex
	state map[string]timestamps
}

// NewIPRateLimiter creates a limiter allowing maxReq requests per window. rdb
// may be nil.
func NewIPRateLimiter(maxReq int, window time.Duration, trusted []string, rdb redis.UniversalClient, logger *slog.Logger) *IPRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &IPRateLimiter{
		max:         maxReq,
		window:      window,
		trustedCIDR: trusted,
		rdb:         rdb,
		logger:      logger,
		state:       make(map[string]timestamps),
	}
}

// clientIPGeneric returns the client IP string. If trustedCIDR is provided,
// X-Forwarded-For / X-Real-IP headers are honored when remote addr is inside
// one of the trusted CIDRs or IPs.
func clientIPGeneric(r *http.Request, trustedCIDR []string) string {
	remoteHost, _, _ := net.SplitHostPort(r.RemoteAddr)
	remoteIP := net.ParseIP(remoteHost)
	trusted := false
	for _, cidr := range trustedCIDR {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if strings.Contains(cidr, "/") {
			if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
				if remoteIP != nil && ipnet.Contains(remoteIP) {
					trusted = true
					break
				}
			}
			continue
		}
		if ip := net.ParseIP(cidr); ip != nil && remoteIP != nil && ip.Equal(remoteIP) {
			trusted = true
			break
		}
	}
	if trusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return strings.TrimSpace(xr)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware applies per-IP limits and sets rate-limit headers.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPGeneric(r, l.trustedCIDR)
		count, retryAfter := l.hit(r.Context(), ip)

		remaining := l.max - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.max))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > l.max {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{
				Success: false,
				Message: "Too many requests, please try again later",
				Code:    "RATE_LIMITED",
				Data:    map[string]interface{}{"retry_after_seconds": retryAfter},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hit records a request and returns the count in the current window and the
// seconds until the window frees a slot.
func (l *IPRateLimiter) hit(ctx context.Context, ip string) (int, int) {
	if l.rdb != nil {
		count, ttl, err := l.redisHit(ctx, ip)
		if err == nil {
			return count, ttl
		}
		l.logger.Warn("redis rate limit failed, using memory", slog.Any("error", err))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	count, oldest := slide(l.state, ip, l.window, nowUnix())
	return count, retryAfterSeconds(oldest, l.window)
}

func (l *IPRateLimiter) redisHit(ctx context.Context, ip string) (int, int, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("rate:ip:%s:%d", ip, bucket)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	windowEnd := (bucket + 1) * int64(l.window)
	retry := int((windowEnd - time.Now().UnixNano()) / int64(time.Second))
	if retry < 1 {
		retry = 1
	}
	return int(incr.Val()), retry, nil
}

// Cleanup drops idle entries; run it from a ticker.
func (l *IPRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	prune(l.state, l.window, nowUnix())
}

// WebhookLimiter: sliding window + whitelist IP
type WebhookLimiter struct {
	maxReq      int
	window      time.Duration
	whitelist   map[string]bool
	trustedCIDR []string

	mu    sync.Mutex
	state map[string]timestamps // ip -> timestamps
}

func NewWebhookLimiter(maxReq int, window time.Duration, whitelist, trusted []string) *WebhookLimiter {
	wl := make(map[string]bool)
	for _, ip := range whitelist {
		wl[strings.TrimSpace(ip)] = true
	}
	return &WebhookLimiter{
		maxReq:      maxReq,
		window:      window,
		whitelist:   wl,
		trustedCIDR: trusted,
		state:       make(map[string]timestamps),
	}
}

func (l *WebhookLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPGeneric(r, l.trustedCIDR)
		if l.whitelist[ip] {
			next.ServeHTTP(w, r)
			return
		}
		l.mu.Lock()
		count, oldest := slide(l.state, ip, l.window, nowUnix())
		l.mu.Unlock()
		if count > l.maxReq {
			retryAfter := retryAfterSeconds(oldest, l.window)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			utils.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"ResultCode": 1,
				"ResultDesc": "Too many callback requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *WebhookLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	prune(l.state, l.window, nowUnix())
}

// LoginLockout applies progressive lockouts after failed admin logins:
// 1 failure -> 1 min, 2 -> 5 min, 3 -> 15 min, 4+ -> 30 min. Redis keeps the
// state shared across instances when configured.
type LoginLockout struct {
	rdb redis.UniversalClient

	mu     sync.Mutex
	failed map[string]int
	locked map[string]int64 // key -> lockUntil unix nanos
}

func NewLoginLockout(rdb redis.UniversalClient) *LoginLockout {
	return &LoginLockout{rdb: rdb, failed: make(map[string]int), locked: make(map[string]int64)}
}

func lockoutDuration(failures int64) time.Duration {
	switch failures {
	case 1:
		return 1 * time.Minute
	case 2:
		return 5 * time.Minute
	case 3:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Locked reports whether key is locked and for how long.
func (g *LoginLockout) Locked(ctx context.Context, key string) (bool, time.Duration) {
	if g.rdb != nil {
		ttl, err := g.rdb.TTL(ctx, "login:lock:"+key).Result()
		if err == nil {
			return ttl > 0, max(ttl, 0)
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.locked[key]
	now := nowUnix()
	if until > now {
		return true, time.Duration(until - now)
	}
	delete(g.locked, key)
	return false, 0
}

// Fail records a failed attempt and locks key.
func (g *LoginLockout) Fail(ctx context.Context, key string) {
	if g.rdb != nil {
		failures, err := g.rdb.Incr(ctx, "login:fail:"+key).Result()
		if err == nil {
			g.rdb.Expire(ctx, "login:fail:"+key, 30*time.Minute)
			g.rdb.Set(ctx, "login:lock:"+key, "1", lockoutDuration(failures))
			return
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[key]++
	g.locked[key] = nowUnix() + int64(lockoutDuration(int64(g.failed[key])))
}

// Reset clears failures after a successful login.
func (g *LoginLockout) Reset(ctx context.Context, key string) {
	if g.rdb != nil {
		g.rdb.Del(ctx, "login:fail:"+key, "login:lock:"+key)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failed, key)
	delete(g.locked, key)
}

// slide appends now to key's window, drops expired entries and returns the
// count and the oldest timestamp still inside the window.
func slide(state map[string]timestamps, key string, window time.Duration, now int64) (int, int64) {
	cutoff := now - int64(window)
	var filtered timestamps
	for _, ts := range state[key] {
		if ts >= cutoff {
			filtered = append(filtered, ts)
		}
	}
	filtered = append(filtered, now)
	state[key] = filtered
	return len(filtered), filtered[0]
}

func retryAfterSeconds(oldest int64, window time.Duration) int {
	retry := int((oldest + int64(window) - nowUnix()) / int64(time.Second))
	if retry < 1 {
		return 1
	}
	return retry
}

func prune(state map[string]timestamps, window time.Duration, now int64) {
	cutoff := now - int64(window)
	for k, arr := range state {
		var filtered timestamps
		for _, ts := range arr {
			if ts >= cutoff {
				filtered = append(filtered, ts)
			}
		}
		if len(filtered) == 0 {
			delete(state, k)
		} else {
			state[k] = filtered
		}
	}
}
