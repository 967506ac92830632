package downloader

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter hands out one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func newHostLimiter(rps float64) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
	}
}

func (h *hostLimiter) get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.rps), 1)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to rawURL is allowed. A nil limiter or a
// non-positive rate never waits.
func (h *hostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil || h.rps <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return h.get(u.Host).Wait(ctx)
}
