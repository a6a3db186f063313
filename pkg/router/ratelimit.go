package router

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiterSet hands out one token-bucket limiter per remote address for
// unauthenticated upgrade attempts, so a single noisy peer can't exhaust the
// accept loop while legitimate traffic from other addresses is unaffected.
type rateLimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newRateLimiterSet(perSecond float64, burst int) *rateLimiterSet {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiterSet{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

func (s *rateLimiterSet) allow(remoteAddr string) bool {
	host := remoteHost(remoteAddr)

	s.mu.Lock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[host] = l
	}
	s.mu.Unlock()

	return l.Allow()
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
