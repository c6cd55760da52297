package config

// RateLimitWindow identifies the refill interval for a resource bucket.
type RateLimitWindow string

const (
	WindowSecond RateLimitWindow = "second"
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
	WindowDay    RateLimitWindow = "day"
)

// BucketSpec configures a single token-bucket resource at a single window.
type BucketSpec struct {
	Capacity   int64
	RefillRate int64
}

// ResourceLimits names the two bucketed resources a rate-limit rule can
// constrain, per window.
type ResourceLimits struct {
	TokensPerInterval          map[RateLimitWindow]BucketSpec
	ModelInferencesPerInterval map[RateLimitWindow]BucketSpec
}

// ScopeCondition is one conjunct of a rule's scope: the rule applies only
// when the request carries tag_key, subject to the sentinel handling on
// tag_value described in spec.md §4.8.
type ScopeCondition struct {
	TagKey   string
	TagValue string
}

// Sentinel tag_value strings with special scope-matching semantics.
const (
	ScopeTotal = "tensorzero::total"
	ScopeEach  = "tensorzero::each"
)

// RateLimitRule is one configured rule: a resource budget gated by a scope
// (an ordered conjunction of tag conditions) and a selection policy (always
// vs. priority).
type RateLimitRule struct {
	Name      string
	Resources ResourceLimits
	Scope     []ScopeCondition

	// Always, when true, means this rule applies unconditionally whenever
	// its scope matches, in addition to whatever priority rule also
	// applies. Mutually exclusive with Priority != nil in practice, though
	// both may be set; Always rules are not subject to priority selection.
	Always bool

	// Priority selects among mutually matching priority rules: only the
	// highest-priority matching rule (by numeric value, higher wins) is
	// applied. Nil when Always is true.
	Priority *int
}

// RateLimitConfig is the top-level [rate_limiting] TOML section, already
// parsed (parsing itself is out of scope per spec.md §1).
type RateLimitConfig struct {
	Enabled bool
	Rules   []RateLimitRule
}
