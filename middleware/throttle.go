package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go_trial/littlelemon/telem"
)

// idleLimiter is how long a user's bucket survives without requests.
const idleLimiter = 10 * time.Minute

type limiterEntry struct {
	*rate.Limiter
	lastSeen time.Time
}

// Throttle keeps one token bucket per authenticated user. Buckets idle for longer
// than it takes them to refill are dropped on the next sweep.
type Throttle struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	metrics *telem.Metrics
	now     func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

func NewThrottle(perSecond float64, burst int, metrics *telem.Metrics) *Throttle {
	idle := idleLimiter
	if perSecond > 0 {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &Throttle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		metrics:  metrics,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.lastSweep) >= t.idle {
		t.sweep(now)
	}
	e, ok := t.limiters[key]
	if !ok {
		e = &limiterEntry{Limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	return e.Limiter
}

// sweep must be called with mu held.
func (t *Throttle) sweep(now time.Time) {
	for key, e := range t.limiters {
		if now.Sub(e.lastSeen) >= t.idle {
			delete(t.limiters, key)
		}
	}
	t.lastSweep = now
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// Middleware must run after Authenticate; anonymous requests pass through.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		res := t.limiter(id.UserID).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			if t.metrics != nil {
				t.metrics.Throttled.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeMessage(w, http.StatusTooManyRequests, "Request was throttled.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
