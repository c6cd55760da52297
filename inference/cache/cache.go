// Package cache implements the request-fingerprint response cache (C10)
// described in spec.md §4.7/§4.9: a Redis-backed store keyed by a SHA-256
// fingerprint of the fully-rendered provider request, so identical variant
// calls (including repeated Best-of-N/Mixture-of-N candidates, disambiguated
// by their injected candidate index) can be served without a network call.
// It is grounded on the teacher's Redis usage pattern in
// registry/result_stream.go (*redis.Client, Set with TTL, Get, key
// namespacing by a fixed prefix).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
)

const keyPrefix = "t0:cache:"

// ErrMiss is returned by Get when no cached entry exists for the key.
var ErrMiss = errors.New("cache: miss")

// Entry is the cached shape of a provider response, stripped of anything
// that shouldn't survive a round trip through JSON (raw wire bodies are
// kept since they're useful for replaying observability rows on a hit).
type Entry struct {
	Content      []content.Part
	Usage        provider.Usage
	FinishReason provider.FinishReason
	RawRequest   string
	RawResponse  string
}

// entryJSON is Entry's wire shape: Content needs the tagged-union encoding
// content.PartsToJSON/PartsFromJSON provide, since content.Part is an
// interface encoding/json can't reconstruct on its own.
type entryJSON struct {
	Content      json.RawMessage       `json:"content"`
	Usage        provider.Usage        `json:"usage"`
	FinishReason provider.FinishReason `json:"finish_reason"`
	RawRequest   string                `json:"raw_request"`
	RawResponse  string                `json:"raw_response"`
}

// MarshalJSON implements json.Marshaler for Entry.
func (e *Entry) MarshalJSON() ([]byte, error) {
	partsJSON, err := content.PartsToJSON(e.Content)
	if err != nil {
		return nil, fmt.Errorf("cache: encode content: %w", err)
	}
	return json.Marshal(entryJSON{
		Content:      partsJSON,
		Usage:        e.Usage,
		FinishReason: e.FinishReason,
		RawRequest:   e.RawRequest,
		RawResponse:  e.RawResponse,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts, err := content.PartsFromJSON(raw.Content)
	if err != nil {
		return fmt.Errorf("cache: decode content: %w", err)
	}
	e.Content = parts
	e.Usage = raw.Usage
	e.FinishReason = raw.FinishReason
	e.RawRequest = raw.RawRequest
	e.RawResponse = raw.RawResponse
	return nil
}

// Store is a Redis-backed cache of provider responses keyed by request
// fingerprint.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// DefaultTTL matches the teacher's DefaultMappingTTL pattern of giving every
// cache entry a bounded lifetime rather than caching forever.
const DefaultTTL = 24 * time.Hour

// New constructs a Store backed by rdb. ttl of zero uses DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Fingerprint computes the cache key for req: a SHA-256 digest over its
// canonicalized JSON encoding. req.ExtraCacheKey (set by Best-of-N/
// Mixture-of-N to the candidate index, per spec.md §4.2) is included so
// distinct candidates of an otherwise identical request never collide.
func Fingerprint(req *provider.Request) string {
	// json.Marshal on a struct with stable field order produces a stable
	// byte sequence across calls, which is all a fingerprint needs here;
	// it never needs to be portable across Go versions.
	b, err := json.Marshal(req)
	if err != nil {
		// Request is always builder-constructed content.Part-s and scalars;
		// marshal failure would mean a bug in the request builder, not bad
		// caller input, so it's safe to fold the error into a distinct key
		// rather than propagate it, which is what the variant engine above
		// would need to do on every caller anyway.
		b = []byte(fmt.Sprintf("unmarshalable:%v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func redisKey(fp string) string {
	return keyPrefix + fp
}

// Get looks up the cached entry for fingerprint fp. It returns ErrMiss, not
// an error, on a cache miss — callers should treat ErrMiss as "proceed to
// call the provider," not as a fatal condition.
func (s *Store) Get(ctx context.Context, fp string) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, redisKey(fp)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", fp, err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("cache: decode entry %s: %w", fp, err)
	}
	return &e, nil
}

// Put stores e under fingerprint fp with the store's configured TTL.
func (s *Store) Put(ctx context.Context, fp string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode entry %s: %w", fp, err)
	}
	if err := s.rdb.Set(ctx, redisKey(fp), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: put %s: %w", fp, err)
	}
	return nil
}

// FromResponse converts a provider.Response into a cacheable Entry.
func FromResponse(resp *provider.Response) *Entry {
	return &Entry{
		Content:      resp.Content,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		RawRequest:   resp.RawRequest,
		RawResponse:  resp.RawResponse,
	}
}

// ToResponse converts a cached Entry back into a provider.Response.
func (e *Entry) ToResponse() *provider.Response {
	return &provider.Response{
		Content:      e.Content,
		Usage:        e.Usage,
		FinishReason: e.FinishReason,
		RawRequest:   e.RawRequest,
		RawResponse:  e.RawResponse,
	}
}
