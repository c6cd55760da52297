package cache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/cache"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.New(rdb, 0)
}

func TestGet_MissReturnsErrMiss(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestPutThenGet_RoundTripsEntry(t *testing.T) {
	s := newStore(t)
	entry := &cache.Entry{
		Content:      []content.Part{content.TextPart{Text: "hello"}},
		Usage:        provider.Usage{InputTokens: 3, OutputTokens: 5},
		FinishReason: provider.FinishStop,
		RawRequest:   `{"model":"dummy"}`,
		RawResponse:  `{"choices":[]}`,
	}

	fp := "fingerprint-a"
	require.NoError(t, s.Put(context.Background(), fp, entry))

	got, err := s.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, entry.Usage, got.Usage)
	require.Equal(t, entry.FinishReason, got.FinishReason)
	require.Equal(t, entry.Content, got.Content)
}

func TestFingerprint_DiffersByExtraCacheKey(t *testing.T) {
	base := &provider.Request{Model: "dummy::good"}
	withIndex := &provider.Request{Model: "dummy::good", ExtraCacheKey: "candidate-1"}

	require.NotEqual(t, cache.Fingerprint(base), cache.Fingerprint(withIndex),
		"distinct best-of-n/mixture-of-n candidates must not collide in the cache")
}

func TestFingerprint_IsStableForIdenticalRequests(t *testing.T) {
	a := &provider.Request{Model: "dummy::good", System: "be terse"}
	b := &provider.Request{Model: "dummy::good", System: "be terse"}

	require.Equal(t, cache.Fingerprint(a), cache.Fingerprint(b))
}

// A second Store built against the same underlying Redis instance observes
// entries the first Store wrote. This is the sibling cache-sharing scenario:
// distinct variant instances (e.g. two candidates of the same function) each
// construct their own *cache.Store, but they must share cache state rather
// than being isolated per-instance.
func TestSiblingStoresShareEntriesViaTheSameRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	storeA := cache.New(rdbA, 0)
	storeB := cache.New(rdbB, 0)

	entry := &cache.Entry{Content: []content.Part{content.TextPart{Text: "shared"}}}
	fp := cache.Fingerprint(&provider.Request{Model: "dummy::good"})

	require.NoError(t, storeA.Put(context.Background(), fp, entry))

	got, err := storeB.Get(context.Background(), fp)
	require.NoError(t, err, "a sibling Store over the same Redis instance must observe the first Store's write")
	require.Equal(t, entry.Content, got.Content)
}
