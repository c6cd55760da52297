// Package ratelimit implements the scope-keyed token-bucket admission
// control (C8) described in spec.md §4.8. It generalizes the teacher's
// single-bucket AdaptiveRateLimiter (features/model/middleware/ratelimit.go,
// which wraps golang.org/x/time/rate with AIMD backoff/probe and a
// Redis-backed cluster map) into many independently keyed buckets selected
// by rule scope, plus borrow-and-return accounting for token estimates.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/ierrors"
)

// Resource identifies which bucketed resource a request consumes.
type Resource string

const (
	ResourceTokens           Resource = "tokens"
	ResourceModelInferences  Resource = "model_inferences"
)

// RequestTags is the set of tag key/value pairs a request carries for scope
// matching (e.g. {"customer_id": "alpha"}).
type RequestTags map[string]string

// Ticket represents an admitted request's borrowed allotment, returned to
// the caller by Acquire so it can later be reconciled via Return once actual
// usage is known. Streaming cancellations must still call Return — callers
// are expected to do so from the detached finalization task described in
// spec.md §4.6, not from the client-visible request path.
type Ticket struct {
	bucketKeys   []string
	borrowedTok  int64
}

// Limiter admits requests against a set of configured rules, each backed by
// an independent rate.Limiter keyed by the rule's resolved scope values.
type Limiter struct {
	mu      sync.Mutex
	rules   []config.RateLimitRule
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter from the loaded rate-limit configuration.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{rules: cfg.Rules, buckets: make(map[string]*rate.Limiter)}
}

// matchingRules returns every rule whose scope matches tags, applying the
// priority selection in spec.md §4.8: every Always rule that matches always
// applies; among non-Always matching rules, only the single
// highest-priority one applies.
func (l *Limiter) matchingRules(tags RequestTags) []config.RateLimitRule {
	var always []config.RateLimitRule
	var best *config.RateLimitRule
	for i := range l.rules {
		rule := l.rules[i]
		if !scopeMatches(rule.Scope, tags) {
			continue
		}
		if rule.Always {
			always = append(always, rule)
			continue
		}
		if rule.Priority == nil {
			continue
		}
		if best == nil || *rule.Priority > *best.Priority {
			r := rule
			best = &r
		}
	}
	if best != nil {
		always = append(always, *best)
	}
	return always
}

func scopeMatches(scope []config.ScopeCondition, tags RequestTags) bool {
	for _, cond := range scope {
		v, ok := tags[cond.TagKey]
		switch cond.TagValue {
		case config.ScopeTotal, config.ScopeEach:
			if !ok {
				return false
			}
		default:
			if !ok || v != cond.TagValue {
				return false
			}
		}
	}
	return true
}

// bucketKey computes the storage key for rule against tags: tensorzero::each
// conditions fold the actual tag value into the key (one bucket per
// distinct value); tensorzero::total conditions ignore the value (one
// aggregate bucket); literal conditions contribute their fixed value.
func bucketKey(rule config.RateLimitRule, resource Resource, window config.RateLimitWindow, tags RequestTags) string {
	key := fmt.Sprintf("rule=%s|resource=%s|window=%s", rule.Name, resource, window)
	for _, cond := range rule.Scope {
		switch cond.TagValue {
		case config.ScopeEach:
			key += fmt.Sprintf("|%s=%s", cond.TagKey, tags[cond.TagKey])
		case config.ScopeTotal:
			key += fmt.Sprintf("|%s=*", cond.TagKey)
		default:
			key += fmt.Sprintf("|%s=%s", cond.TagKey, cond.TagValue)
		}
	}
	return key
}

func (l *Limiter) limiterFor(key string, spec config.BucketSpec, window config.RateLimitWindow) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.buckets[key]; ok {
		return lim
	}
	perSecond := refillPerSecond(spec.RefillRate, window)
	lim := rate.NewLimiter(rate.Limit(perSecond), int(spec.Capacity))
	l.buckets[key] = lim
	return lim
}

func refillPerSecond(rate_ int64, window config.RateLimitWindow) float64 {
	switch window {
	case config.WindowSecond:
		return float64(rate_)
	case config.WindowMinute:
		return float64(rate_) / 60.0
	case config.WindowHour:
		return float64(rate_) / 3600.0
	case config.WindowDay:
		return float64(rate_) / 86400.0
	default:
		return float64(rate_)
	}
}

// estimatedTokens is the upfront token estimate borrowed per admitted
// request before actual usage is known.
const estimatedTokens = 1

// Acquire admits a request against every applicable rule. A request
// proceeds only if every applicable rule admits it (spec.md §4.8); on
// denial it returns an *ierrors.Error whose message contains "rate limit
// exceeded", as required by the error surface contract.
func (l *Limiter) Acquire(ctx context.Context, tags RequestTags, estimatedRequestTokens int64) (*Ticket, error) {
	rules := l.matchingRules(tags)
	if len(rules) == 0 {
		return &Ticket{}, nil
	}

	var acquiredKeys []string
	for _, rule := range rules {
		for window, spec := range rule.Resources.ModelInferencesPerInterval {
			key := bucketKey(rule, ResourceModelInferences, window, tags)
			lim := l.limiterFor(key, spec, window)
			if !lim.AllowN(time.Now(), 1) {
				return nil, denied(rule.Name)
			}
			acquiredKeys = append(acquiredKeys, key)
		}
		for window, spec := range rule.Resources.TokensPerInterval {
			key := bucketKey(rule, ResourceTokens, window, tags)
			lim := l.limiterFor(key, spec, window)
			n := estimatedRequestTokens
			if n <= 0 {
				n = estimatedTokens
			}
			if !lim.AllowN(time.Now(), int(n)) {
				return nil, denied(rule.Name)
			}
			acquiredKeys = append(acquiredKeys, key)
		}
	}
	return &Ticket{bucketKeys: acquiredKeys, borrowedTok: estimatedRequestTokens}, nil
}

// Return reconciles a ticket's borrowed estimate against actual usage,
// refunding the delta back into the token bucket (borrow-and-return, spec.md
// §4.8). It must be called even when the client cancelled the underlying
// stream; callers invoke it from the detached finalization task described in
// the streaming aggregator (C7) so cancellation never leaks tickets.
func (l *Limiter) Return(ticket *Ticket, actualTokens int64) {
	if ticket == nil {
		return
	}
	delta := ticket.borrowedTok - actualTokens
	if delta == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range ticket.bucketKeys {
		if !strings.Contains(key, "|resource="+string(ResourceTokens)+"|") {
			continue
		}
		if lim, ok := l.buckets[key]; ok {
			lim.AllowN(time.Now(), -int(delta))
		}
	}
}

func denied(ruleName string) error {
	return ierrors.New(ierrors.KindInferenceClient, fmt.Sprintf("rate limit exceeded for rule %q", ruleName))
}
