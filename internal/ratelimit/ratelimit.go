package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nodues/clearance/internal/metrics"
)

const keyPrefix = "nodues:rl:"

// Fixed window counter: the first hit in a window sets the expiry.
const windowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// Limiter counts requests per key in Redis. A nil client or a Redis error lets the request through.
type Limiter struct {
	client  redis.Scripter
	script  *redis.Script
	timeout time.Duration
	logger  logrus.FieldLogger
	proxies []*net.IPNet
}

func New(client redis.Scripter, logger logrus.FieldLogger) *Limiter {
	return &Limiter{
		client:  client,
		script:  redis.NewScript(windowScript),
		timeout: 250 * time.Millisecond,
		logger:  logger,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil || key == "" || limit <= 0 || window <= 0 {
		return true
	}
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{keyPrefix + key}, ttl, limit).Int64()
	if err != nil {
		if l.logger != nil {
			l.logger.WithError(err).Warn("rate limiter unavailable")
		}
		return true
	}
	return allowed == 1
}

// Middleware limits by bucket name plus client IP. Refused requests get 429 rate_limited.
func (l *Limiter) Middleware(bucket string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(r.Context(), bucket+":"+l.ClientIP(r), limit, window) {
				metrics.RateLimited.WithLabelValues(bucket).Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter(window))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// TrustProxies sets the addresses (IPs or CIDRs) whose X-Forwarded-For header is believed.
func (l *Limiter) TrustProxies(entries []string) error {
	proxies := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, network)
	}
	l.proxies = proxies
	return nil
}

func (l *Limiter) trusted(ip net.IP) bool {
	if l == nil || ip == nil {
		return false
	}
	for _, network := range l.proxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP is the connection peer unless the peer is a trusted proxy. Then it is the right-most
// X-Forwarded-For hop that is not itself a trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	if !l.trusted(net.ParseIP(peer)) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			break
		}
		if !l.trusted(ip) {
			return ip.String()
		}
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
