package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/ratelimit"
)

func bucketConfig(capacity, refill int64) config.ResourceLimits {
	return config.ResourceLimits{
		ModelInferencesPerInterval: map[config.RateLimitWindow]config.BucketSpec{
			config.WindowMinute: {Capacity: capacity, RefillRate: refill},
		},
	}
}

func TestAcquire_DeniesOnceBucketIsExhausted(t *testing.T) {
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{Name: "r1", Always: true, Resources: bucketConfig(1, 60)},
		},
	})

	_, err := l.Acquire(context.Background(), ratelimit.RequestTags{}, 0)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), ratelimit.RequestTags{}, 0)
	require.Error(t, err, "a second request against a capacity-1 bucket must be denied")
}

func TestAcquire_PriorityRulesOnlyApplyTheHighestMatching(t *testing.T) {
	low, high := 1, 10
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{
				Name:     "low",
				Priority: &low,
				Scope:    []config.ScopeCondition{{TagKey: "customer_id", TagValue: config.ScopeEach}},
				Resources: bucketConfig(1, 60),
			},
			{
				Name:     "high",
				Priority: &high,
				Scope:    []config.ScopeCondition{{TagKey: "customer_id", TagValue: config.ScopeEach}},
				Resources: bucketConfig(5, 60),
			},
		},
	})

	// Only the higher-priority rule's (capacity 5) bucket should gate this
	// request; the lower-priority (capacity 1) rule must not also apply.
	for i := 0; i < 3; i++ {
		_, err := l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "alpha"}, 0)
		require.NoError(t, err, "iteration %d should be admitted by only the high-priority rule", i)
	}
}

func TestAcquire_AlwaysRuleAppliesAlongsideBestPriority(t *testing.T) {
	p := 1
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{Name: "global", Always: true, Resources: bucketConfig(1, 60)},
			{Name: "per-customer", Priority: &p, Scope: []config.ScopeCondition{{TagKey: "customer_id", TagValue: config.ScopeEach}}, Resources: bucketConfig(100, 6000)},
		},
	})

	_, err := l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "alpha"}, 0)
	require.NoError(t, err)

	// The always-rule's capacity-1 bucket is now exhausted regardless of the
	// generous per-customer bucket still having room.
	_, err = l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "beta"}, 0)
	require.Error(t, err)
}

func TestAcquire_EachScopeBucketsPerTagValue(t *testing.T) {
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{
				Name:      "per-customer",
				Always:    true,
				Scope:     []config.ScopeCondition{{TagKey: "customer_id", TagValue: config.ScopeEach}},
				Resources: bucketConfig(1, 60),
			},
		},
	})

	_, err := l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "alpha"}, 0)
	require.NoError(t, err)

	// A distinct customer_id value gets its own bucket under "each" scoping.
	_, err = l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "beta"}, 0)
	require.NoError(t, err)

	// Exhausting alpha's bucket doesn't affect beta's.
	_, err = l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "alpha"}, 0)
	require.Error(t, err)
}

func TestAcquire_TotalScopeSharesOneBucketAcrossValues(t *testing.T) {
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{
				Name:      "total",
				Always:    true,
				Scope:     []config.ScopeCondition{{TagKey: "customer_id", TagValue: config.ScopeTotal}},
				Resources: bucketConfig(1, 60),
			},
		},
	})

	_, err := l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "alpha"}, 0)
	require.NoError(t, err)

	// "total" scoping ignores the actual tag value, so a different customer
	// still shares the same exhausted bucket.
	_, err = l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "beta"}, 0)
	require.Error(t, err)
}

func TestAcquire_NoMatchingRuleAdmitsUnconditionally(t *testing.T) {
	l := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{
				Name:      "scoped",
				Always:    true,
				Scope:     []config.ScopeCondition{{TagKey: "customer_id", TagValue: "alpha"}},
				Resources: bucketConfig(1, 60),
			},
		},
	})

	_, err := l.Acquire(context.Background(), ratelimit.RequestTags{"customer_id": "someone-else"}, 0)
	require.NoError(t, err)
}

func TestReturn_NilTicketIsNoop(t *testing.T) {
	l := ratelimit.New(config.RateLimitConfig{Enabled: true})
	require.NotPanics(t, func() { l.Return(nil, 0) })
}
