package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/concierge-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-IP request rate on search,
	// research and upload routes.
	defaultRateLimit = 10
	// defaultRateBurst is the per-IP burst. Deep research opens one request
	// and streams, so a client rarely needs more.
	defaultRateBurst = 20
	// limiterIdleTTL is how long an IP's bucket survives without traffic.
	limiterIdleTTL = 5 * time.Minute
	// limiterPurgeInterval is how often idle buckets are dropped.
	limiterPurgeInterval = time.Minute
)

// rateLimiter enforces a per-IP token bucket. Buckets live in a go-cache
// keyed by IP and expire after limiterIdleTTL without requests.
type rateLimiter struct {
	// limiters maps client IP to *rate.Limiter.
	limiters *cache.Cache
	// rps is the sustained request rate per IP.
	rps rate.Limit
	// burst is the bucket size per IP.
	burst int
	// retryAfter is the Retry-After value sent with 429 responses, the time
	// one token takes to refill.
	retryAfter string
	// rejected counts requests turned away; nil disables counting.
	rejected prometheus.Counter
}

// newRateLimiter returns a limiter allowing rps requests per second per IP
// with the given burst.
func newRateLimiter(rps float64, burst int, rejected prometheus.Counter) *rateLimiter {
	refill := 1
	if rps > 0 {
		refill = max(1, int(math.Ceil(1/rps)))
	}
	return &rateLimiter{
		limiters:   cache.New(limiterIdleTTL, limiterPurgeInterval),
		rps:        rate.Limit(rps),
		burst:      burst,
		retryAfter: strconv.Itoa(refill),
		rejected:   rejected,
	}
}

// limiter returns ip's bucket, creating it on first use. Every hit pushes
// the bucket's expiry back.
func (rl *rateLimiter) limiter(ip string) *rate.Limiter {
	if v, ok := rl.limiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		rl.limiters.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	if err := rl.limiters.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// Another request for the same IP created the bucket first.
		if v, ok := rl.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// middleware rejects requests over the limit with 429 and a Retry-After
// header before they reach next.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.limiter(ip).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		if rl.rejected != nil {
			rl.rejected.Inc()
		}
		w.Header().Set("Retry-After", rl.retryAfter)
		writeJSONError(w, r, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
