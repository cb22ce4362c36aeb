package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"esign-trust-service/internal/obs"
	"esign-trust-service/pkg/httputil"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter はクライアントIPごとのトークンバケット。
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewIPRateLimiter は新しいIPRateLimiterを生成する。
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow は ip のリクエストを許可するかを返す。
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	l.sweep(now)
	return allowed
}

// sweep は一定時間アクセスの無いIPを捨てる。呼び出し側でロックを保持すること。
func (l *IPRateLimiter) sweep(now time.Time) {
	if len(l.visitors) < 1024 {
		return
	}
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, ip)
		}
	}
}

// Handler はレート制限を超えたリクエストに 429 を返すミドルウェア。
func (l *IPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			obs.RateLimitRejections.Inc()
			retryAfter := 1
			if l.rps > 0 {
				retryAfter = max(1, int(1/float64(l.rps)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.Error(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByIP は rps と burst でIP単位に制限するミドルウェアを返す。
func RateLimitByIP(rps float64, burst int) func(http.Handler) http.Handler {
	return NewIPRateLimiter(rps, burst).Handler
}

// clientIP は RemoteAddr からホスト部を取り出す。プロキシ配下では chi の RealIP を前段に置く。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
