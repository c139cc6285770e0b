package scripting

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned when the per-minute budget is spent.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrTooManyConcurrent is returned when every run slot is taken.
	ErrTooManyConcurrent = errors.New("too many concurrent scripts")
)

// RateLimiter combines a per-minute token bucket with a concurrency cap.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	bucket            *rate.Limiter
	slots             *semaphore.Weighted
	concurrent        atomic.Int64
	now               func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits fall back to 30 runs
// per minute and one at a time.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		bucket:            rate.NewLimiter(perMinute(requestsPerMinute), requestsPerMinute),
		slots:             semaphore.NewWeighted(int64(maxConcurrent)),
		now:               time.Now,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}

// Acquire takes a run slot and one token. The returned release frees the
// slot and must be called exactly once.
func (r *RateLimiter) Acquire() (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.slots
	if !slots.TryAcquire(1) {
		return nil, ErrTooManyConcurrent
	}
	if !r.bucket.AllowN(r.now(), 1) {
		slots.Release(1)
		return nil, ErrRateLimited
	}

	r.concurrent.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.concurrent.Add(-1)
			slots.Release(1)
		})
	}, nil
}

// UpdateLimits changes the limits in place. Runs holding a slot of the old
// concurrency cap keep it until they release.
func (r *RateLimiter) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if requestsPerMinute > 0 && requestsPerMinute != r.requestsPerMinute {
		r.requestsPerMinute = requestsPerMinute
		now := r.now()
		r.bucket.SetLimitAt(now, perMinute(requestsPerMinute))
		r.bucket.SetBurstAt(now, requestsPerMinute)
	}
	if maxConcurrent > 0 && maxConcurrent != r.maxConcurrent {
		r.maxConcurrent = maxConcurrent
		r.slots = semaphore.NewWeighted(int64(maxConcurrent))
	}
}

// Stats returns the tokens left in the bucket and runs in progress.
func (r *RateLimiter) Stats() (available, concurrent int) {
	r.mu.Lock()
	tokens := r.bucket.TokensAt(r.now())
	r.mu.Unlock()
	return int(tokens), int(r.concurrent.Load())
}
