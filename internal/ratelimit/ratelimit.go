package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMinDelay = 2 * time.Second
	DefaultJitter   = 3 * time.Second
)

// Limiter gates outbound requests per worker. A delay is never an error;
// Acquire only fails when ctx ends while waiting.
type Limiter interface {
	Acquire(ctx context.Context, workerID int) error
}

// SimpleRateLimiter enforces a randomized minimum interval between
// consecutive Wait calls. The first call returns immediately.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	jitter     time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewSimpleRateLimiter(minDelay, jitter time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		jitter:   jitter,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := time.Since(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			timer := time.NewTimer(delay - elapsed)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(minDelay, jitter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = minDelay
	r.jitter = jitter
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if r.jitter <= 0 {
		return r.minDelay
	}
	return r.minDelay + time.Duration(rand.Int63n(int64(r.jitter)))
}

// PerWorker keeps one SimpleRateLimiter per worker so workers never wait on
// each other.
type PerWorker struct {
	minDelay time.Duration
	jitter   time.Duration

	mu       sync.Mutex
	limiters map[int]*SimpleRateLimiter
}

func NewPerWorker(minDelay, jitter time.Duration) *PerWorker {
	if minDelay < 0 {
		minDelay = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	return &PerWorker{
		minDelay: minDelay,
		jitter:   jitter,
		limiters: make(map[int]*SimpleRateLimiter),
	}
}

func (p *PerWorker) Acquire(ctx context.Context, workerID int) error {
	return p.limiter(workerID).Wait(ctx)
}

func (p *PerWorker) limiter(workerID int) *SimpleRateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[workerID]
	if !ok {
		l = NewSimpleRateLimiter(p.minDelay, p.jitter)
		p.limiters[workerID] = l
	}
	return l
}

// Bounds reports the configured interval range [min, min+jitter).
func (p *PerWorker) Bounds() (time.Duration, time.Duration) {
	return p.minDelay, p.minDelay + p.jitter
}
