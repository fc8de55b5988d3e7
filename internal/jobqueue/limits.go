package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SourceLimits rate-limits adapter calls per external source. Each source
// has an independent limiter since external APIs have independent quotas.
// The in-flight gauges are the only shared mutable counters touched by
// multiple workers, so they are atomics.
type SourceLimits struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
	burst       int
	inFlight    map[string]*atomic.Int64
}

// NewSourceLimits creates per-source limiters from requests-per-second
// settings. Sources absent from perSecond fall back to defaultPerSecond;
// zero or negative values mean unlimited.
func NewSourceLimits(perSecond map[string]int, defaultPerSecond int) *SourceLimits {
	defRate := rate.Inf
	if defaultPerSecond > 0 {
		defRate = rate.Limit(defaultPerSecond)
	}

	s := &SourceLimits{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: defRate,
		burst:       1,
		inFlight:    make(map[string]*atomic.Int64),
	}
	for source, rps := range perSecond {
		limit := rate.Inf
		if rps > 0 {
			limit = rate.Limit(rps)
		}
		s.limiters[source] = rate.NewLimiter(limit, s.burst)
	}
	return s
}

// Wait blocks until the source's limiter admits a call or ctx is done.
func (s *SourceLimits) Wait(ctx context.Context, source string) error {
	limiter := s.limiter(source)

	gauge := s.gauge(source)
	gauge.Add(1)
	defer gauge.Add(-1)

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	if n := gauge.Load(); n > 10 {
		zap.L().Debug("source backlog",
			zap.String("source", source),
			zap.Int64("waiting", n),
		)
	}
	return nil
}

func (s *SourceLimits) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(s.defaultRate, s.burst)
		s.limiters[source] = l
	}
	return l
}

func (s *SourceLimits) gauge(source string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.inFlight[source]
	if !ok {
		g = &atomic.Int64{}
		s.inFlight[source] = g
	}
	return g
}
