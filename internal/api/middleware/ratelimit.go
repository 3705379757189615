// ratelimit.go — ограничение частоты запросов по адресу клиента.
// Token bucket (golang.org/x/time/rate) на каждый адрес; лимитеры
// живут в expirable LRU, редкие клиенты вытесняются сами.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/netaddr"
)

// лимиты на хранение лимитеров: больше клиентов — вытеснение по LRU
const limiterCacheSize = 10000

// RateLimiter — ограничитель частоты запросов по адресу клиента.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду с
// всплеском burst на каждый адрес. Лимитер клиента живёт ttl с
// момента создания, затем создаётся заново с полным bucket-ом.
func NewRateLimiter(rps float64, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, ttl),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Middleware возвращает HTTP middleware, отвечающий 429 при
// превышении лимита клиентом.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := netaddr.RemoteHost(r.RemoteAddr)
			if !rl.allow(host) {
				apierrors.RateLimited(w, "слишком много запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow проверяет token bucket клиента, создавая лимитер при
// первом обращении. Mutex закрывает гонку get-then-add.
func (rl *RateLimiter) allow(host string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters.Get(host)
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters.Add(host, limiter)
	}
	rl.mu.Unlock()

	return limiter.Allow()
}
