package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// FailurePolicy decides what the limiter does when the counter store fails
type FailurePolicy string

const (
	// FailClosed rejects the request with 503
	FailClosed FailurePolicy = "closed"
	// FailOpen lets the request through unmetered
	FailOpen FailurePolicy = "open"
	// FailLocal meters the request with an in-process limiter
	FailLocal FailurePolicy = "local"
)

// ParseFailurePolicy parses a policy name
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FailClosed, FailOpen, FailLocal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown rate limit failure policy %q (want closed, open or local)", s)
	}
}

// Rate limit identity kinds
const (
	KindAPIKey = "apikey"
	KindIP     = "ip"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// Window is the fixed window length
	Window time.Duration
	// APIKeyLimit is the quota for requests presenting an API key
	APIKeyLimit int
	// IPLimit is the quota for requests identified by client address
	IPLimit int
	// Prefix namespaces counters in the shared store
	Prefix string
	// FailurePolicy applies when the counter store is unavailable
	FailurePolicy FailurePolicy
	// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP
	TrustProxyHeaders bool
	// StoreTimeout bounds each counter store call
	StoreTimeout time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:        15 * time.Minute,
		APIKeyLimit:   100,
		IPLimit:       10,
		Prefix:        "rl:",
		FailurePolicy: FailClosed,
		StoreTimeout:  2 * time.Second,
	}
}

// Validate checks the configuration
func (c RateLimitConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.APIKeyLimit <= 0 || c.IPLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if _, err := ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return err
	}
	return nil
}

// Counter increments a fixed-window counter, returning the count after the
// increment and the time left in the window.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// fixedWindowScript increments the counter and starts the window on the first
// hit. A counter that somehow lost its expiry gets a fresh one.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter is a Counter shared by every gateway instance
type RedisCounter struct {
	client redis.UniversalClient
}

// NewRedisCounter creates a Redis-backed counter
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Increment implements Counter atomically with a Lua script
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, c.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected counter reply %v", res)
	}
	count, ok1 := values[0].(int64)
	pttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected counter reply %v", res)
	}
	return count, time.Duration(pttl) * time.Millisecond, nil
}

// RateLimitIdentity is who a request is metered as
type RateLimitIdentity struct {
	Key   string
	Kind  string
	Limit int
}

// RateLimitDecision is the outcome of one metered request
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// RateLimiter enforces fixed-window quotas against a shared counter store
type RateLimiter struct {
	counter Counter
	local   *LocalLimiter
	config  RateLimitConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewRateLimiter creates a rate limiter. metrics and auditor may be nil.
func NewRateLimiter(counter Counter, config RateLimitConfig, logger *observability.Logger, metrics *observability.Metrics, auditor audit.Logger) (*RateLimiter, error) {
	if counter == nil {
		return nil, auth.NewConfigurationError("rate limiter requires a counter")
	}
	if config.FailurePolicy == "" {
		config.FailurePolicy = FailClosed
	}
	if err := config.Validate(); err != nil {
		return nil, auth.NewConfigurationError(err.Error())
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if auditor == nil {
		auditor = audit.NopLogger{}
	}

	rl := &RateLimiter{
		counter: counter,
		config:  config,
		logger:  logger,
		metrics: metrics,
		audit:   auditor,
	}
	if config.FailurePolicy == FailLocal {
		rl.local = NewLocalLimiter(config.Window)
	}
	return rl, nil
}

// StartCleanup evicts idle in-process limiters when the local policy is in use
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	if rl.local != nil {
		rl.local.StartCleanup(ctx, rl.logger)
	}
}

// Identify derives the rate limit identity of a request
func (rl *RateLimiter) Identify(r *http.Request) RateLimitIdentity {
	if rawKey := r.Header.Get(APIKeyHeader); rawKey != "" {
		return RateLimitIdentity{
			Key:   KindAPIKey + ":" + auth.HashAPIKey(rawKey),
			Kind:  KindAPIKey,
			Limit: rl.config.APIKeyLimit,
		}
	}
	return RateLimitIdentity{
		Key:   KindIP + ":" + NormalizeIP(ClientIP(r, rl.config.TrustProxyHeaders)),
		Kind:  KindIP,
		Limit: rl.config.IPLimit,
	}
}

// Check meters one request for id against the shared counter
func (rl *RateLimiter) Check(ctx context.Context, id RateLimitIdentity) (RateLimitDecision, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.config.StoreTimeout)
	defer cancel()

	ctx, span := observability.Tracer().Start(ctx, "ratelimit.Check")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.kind", id.Kind))

	start := time.Now()
	count, ttl, err := rl.counter.Increment(ctx, rl.config.Prefix+id.Key, rl.config.Window)
	rl.metrics.RecordStoreOperation("redis", "ratelimit_increment", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "counter store unavailable")
		return RateLimitDecision{}, &auth.TransientStoreError{Op: "ratelimit increment", Err: err}
	}
	if ttl <= 0 {
		ttl = rl.config.Window
	}

	remaining := id.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{
		Allowed:   count <= int64(id.Limit),
		Limit:     id.Limit,
		Remaining: remaining,
		Reset:     ttl,
	}, nil
}

// Handler wraps an HTTP handler with rate limiting
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := rl.Identify(r)

		decision, err := rl.Check(r.Context(), id)
		if err != nil {
			var ok bool
			if decision, ok = rl.degrade(w, r, id, err); !ok {
				return
			}
			if decision.Limit == 0 {
				next.ServeHTTP(w, r)
				return
			}
		}

		rl.setHeaders(w, decision)
		rl.metrics.RecordRateLimit(id.Kind, decision.Allowed)

		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(decision.Reset)))

			event := audit.NewEvent(r.Context(), r, audit.EventTypeRateLimitExceeded, audit.DecisionDeny)
			event.Reason = id.Kind
			event.Message = fmt.Sprintf("quota of %d per %s exhausted", decision.Limit, rl.config.Window)
			if id.Kind == KindAPIKey {
				event.KeyHash = strings.TrimPrefix(id.Key, KindAPIKey+":")
			}
			rl.record(r, event)

			httputil.WriteError(w, &auth.RateLimitError{Limit: decision.Limit, RetryAfter: decision.Reset})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// degrade applies the failure policy. It reports false when the response has
// already been written. A zero-limit decision means pass unmetered.
func (rl *RateLimiter) degrade(w http.ResponseWriter, r *http.Request, id RateLimitIdentity, err error) (RateLimitDecision, bool) {
	policy := rl.config.FailurePolicy
	rl.metrics.RecordRateLimitStoreError(string(policy))

	event := audit.NewEvent(r.Context(), r, audit.EventTypeRateLimitDegraded, audit.DecisionFailure)
	event.Reason = string(policy)
	event.Message = err.Error()
	rl.record(r, event)

	logger := observability.FromContext(r.Context(), rl.logger).WithError(err).WithFields(map[string]interface{}{
		"policy": string(policy),
		"kind":   id.Kind,
	})

	switch policy {
	case FailOpen:
		logger.Warn("Rate limit counter store unavailable, allowing request")
		return RateLimitDecision{}, true
	case FailLocal:
		logger.Warn("Rate limit counter store unavailable, using local limiter")
		return rl.local.Allow(id.Key, id.Limit), true
	default:
		logger.Error("Rate limit counter store unavailable, rejecting request")
		httputil.WriteServiceUnavailable(w, "Rate limiter unavailable")
		return RateLimitDecision{}, false
	}
}

func (rl *RateLimiter) setHeaders(w http.ResponseWriter, d RateLimitDecision) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.Reset)))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", d.Limit, int(rl.config.Window.Seconds())))
}

func (rl *RateLimiter) record(r *http.Request, event *audit.Event) {
	if err := rl.audit.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context(), rl.logger).WithError(err).Warn("Failed to write audit event")
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// ClientIP returns the client address of r. Forwarding headers are only
// consulted when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NormalizeIP maps an address to its rate limit identity: ipv4:<addr> for
// IPv4 (including IPv4-mapped IPv6), ipv6:<network>/64 for IPv6 and
// "unknown" for anything unparseable.
func NormalizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.Trim(strings.TrimSpace(raw), "[]"))
	if err != nil {
		return "unknown"
	}
	addr = addr.WithZone("").Unmap()

	if addr.Is4() {
		return "ipv4:" + addr.String()
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return "unknown"
	}
	return "ipv6:" + prefix.String()
}
