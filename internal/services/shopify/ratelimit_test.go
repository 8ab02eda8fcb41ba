package shopify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestBucket(limits PlanLimits) (*TokenBucket, *fakeClock, *sleepRecorder) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &sleepRecorder{}
	b := NewTokenBucket(limits)
	b.now = clock.now
	b.last = clock.t
	b.sleep = rec.sleep
	return b, clock, rec
}

func TestTokenBucketWaitsForOverflow(t *testing.T) {
	b, _, rec := newTestBucket(StandardPlan)
	ctx := context.Background()

	waited, err := b.Acquire(ctx, 1000)
	require.NoError(t, err)
	assert.Zero(t, waited)

	waited, err = b.Acquire(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, waited, "ceil(120/50) seconds")
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.recorded())
}

func TestTokenBucketConcurrentCallersQueue(t *testing.T) {
	b, _, rec := newTestBucket(StandardPlan)
	ctx := context.Background()

	_, err := b.Acquire(ctx, 1000)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, 50)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, 50)
	require.NoError(t, err)

	// the second caller waits off both debts
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.recorded())
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b, clock, _ := newTestBucket(PlusPlan)
	ctx := context.Background()

	_, err := b.Acquire(ctx, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 0, b.Available(), 0.001)

	clock.t = clock.t.Add(5 * time.Second)
	assert.InDelta(t, 500, b.Available(), 0.001)

	clock.t = clock.t.Add(time.Hour)
	assert.InDelta(t, 2000, b.Available(), 0.001, "refill is capped at the maximum")
}

func TestTokenBucketReconcileAndRefund(t *testing.T) {
	b, _, _ := newTestBucket(StandardPlan)

	b.Reconcile(ThrottleStatus{MaximumAvailable: 2000, CurrentlyAvailable: 123, RestoreRate: 100})
	assert.InDelta(t, 123, b.Available(), 0.001)
	assert.Equal(t, 2*time.Second, b.WaitFor(150))

	b.Refund(5000)
	assert.InDelta(t, 2000, b.Available(), 0.001)

	b.Refund(-100)
	assert.InDelta(t, 1900, b.Available(), 0.001)
}

func TestTokenBucketHonoursCancellation(t *testing.T) {
	b, _, _ := newTestBucket(StandardPlan)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Acquire(ctx, 1500)
	assert.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 1000, b.Available(), 0.001, "a cancelled reservation is refunded")
}

func TestLimitsForPlan(t *testing.T) {
	assert.Equal(t, PlusPlan, LimitsForPlan("Plus"))
	assert.Equal(t, PlusPlan, LimitsForPlan("shopify_plus"))
	assert.Equal(t, StandardPlan, LimitsForPlan("basic"))
	assert.Equal(t, StandardPlan, LimitsForPlan(""))
}

func TestHeuristicEstimator(t *testing.T) {
	var e HeuristicEstimator
	assert.Equal(t, 24.0, e.Estimate("query { products(first: 10) { edges { node { id } } } }"))
	assert.Equal(t, 1.0, e.Estimate(""))

	custom := CostEstimatorFunc(func(string) float64 { return 7 })
	assert.Equal(t, 7.0, custom.Estimate("anything"))
}
