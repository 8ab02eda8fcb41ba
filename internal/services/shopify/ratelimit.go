package shopify

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// PlanLimits are the leaky bucket parameters of a Shopify plan.
type PlanLimits struct {
	RestoreRate  float64
	MaxAvailable float64
}

var (
	StandardPlan = PlanLimits{RestoreRate: 50, MaxAvailable: 1000}
	PlusPlan     = PlanLimits{RestoreRate: 100, MaxAvailable: 2000}
)

// LimitsForPlan maps a plan name to its limits. Unknown names get the
// standard plan.
func LimitsForPlan(plan string) PlanLimits {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "plus", "shopify_plus", "shopify plus":
		return PlusPlan
	}
	return StandardPlan
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucket tracks the query cost budget of one shop. Callers reserve cost
// under the lock and wait outside it, so concurrent callers queue behind each
// other's debt instead of all seeing the same balance.
type TokenBucket struct {
	mu        sync.Mutex
	available float64
	max       float64
	rate      float64
	last      time.Time

	now   func() time.Time
	sleep Sleeper
}

func NewTokenBucket(limits PlanLimits) *TokenBucket {
	return &TokenBucket{
		available: limits.MaxAvailable,
		max:       limits.MaxAvailable,
		rate:      limits.RestoreRate,
		last:      time.Now(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Acquire reserves cost points. When the bucket cannot cover the cost it
// waits ceil(overflow/rate) seconds once and returns the time waited.
func (b *TokenBucket) Acquire(ctx context.Context, cost float64) (time.Duration, error) {
	b.mu.Lock()
	b.refill()
	b.available -= cost
	var wait time.Duration
	if b.available < 0 {
		wait = b.secondsFor(-b.available)
	}
	b.mu.Unlock()

	if wait == 0 {
		return 0, nil
	}
	if err := b.sleep(ctx, wait); err != nil {
		b.Refund(cost)
		return 0, err
	}
	return wait, nil
}

// Reconcile replaces the local estimate with the server's view.
func (b *TokenBucket) Reconcile(status ThrottleStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if status.MaximumAvailable > 0 {
		b.max = status.MaximumAvailable
	}
	if status.RestoreRate > 0 {
		b.rate = status.RestoreRate
	}
	b.available = math.Min(status.CurrentlyAvailable, b.max)
	b.last = b.now()
}

// Refund returns points, for example when the actual cost was below the
// estimate. A negative amount charges the difference.
func (b *TokenBucket) Refund(points float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.available = math.Min(b.available+points, b.max)
}

// Available reports the current balance. It can be negative while callers
// wait off their debt.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.available
}

// WaitFor returns how long restoring the given number of points takes.
func (b *TokenBucket) WaitFor(points float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.secondsFor(points)
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.available = math.Min(b.max, b.available+elapsed*b.rate)
	}
	b.last = now
}

func (b *TokenBucket) secondsFor(points float64) time.Duration {
	if points <= 0 || b.rate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(points/b.rate)) * time.Second
}
