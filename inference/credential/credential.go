// Package credential resolves provider credential locators into secret
// values at request time. Secrets are wrapped in a dedicated type whose
// Debug/String output is always redacted, so a stray log.Error or %+v over a
// request never leaks an API key.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorzero/inference-core/inference/telemetry"
)

// Secret wraps a resolved credential value. Its zero value is an empty,
// absent secret. String prints "[redacted]" and GoString prints
// "credential.Secret([redacted])"; callers
// must call Expose to read the underlying value, which makes accidental
// leakage into logs or error messages a deliberate act rather than a
// default.
type Secret struct {
	value string
	set   bool
}

// NewSecret wraps value as a Secret.
func NewSecret(value string) Secret { return Secret{value: value, set: true} }

// Expose returns the underlying secret value. Callers should hold the
// result for the minimum time necessary (e.g., to set an Authorization
// header) and never store it in a struct that might be logged.
func (s Secret) Expose() string { return s.value }

// IsSet reports whether the secret carries a resolved value.
func (s Secret) IsSet() bool { return s.set }

func (s Secret) String() string { return "[redacted]" }

func (s Secret) GoString() string { return "credential.Secret([redacted])" }

// Kind identifies how a credential locator resolves to a value.
type Kind string

const (
	KindEnv          Kind = "env"
	KindDynamic      Kind = "dynamic"
	KindPath         Kind = "path"
	KindFileContents Kind = "file_contents"
	KindStatic       Kind = "static"
	KindMissing      Kind = "missing"
	KindWithFallback Kind = "with_fallback"
)

// Locator describes where a credential value comes from. Exactly the fields
// relevant to Kind are populated; the rest are zero.
type Locator struct {
	Kind Kind

	// EnvVar names the environment variable for KindEnv.
	EnvVar string

	// DynamicKey names the key looked up in the per-request credentials map
	// for KindDynamic.
	DynamicKey string

	// FilePath names the file to read for KindPath.
	FilePath string

	// StaticValue holds the literal secret for KindStatic / KindFileContents
	// (for KindFileContents it holds the already-read file contents; Resolve
	// returns them as they are and does not read FilePath).
	StaticValue string

	// Default/Fallback locators for KindWithFallback. Default is tried
	// first; Fallback is tried (and a WARN logged) if Default fails.
	Default  *Locator
	Fallback *Locator
}

// Dynamic is the per-request map supplied by callers for KindDynamic
// locators (the "credentials" field on an inference request).
type Dynamic map[string]string

// ParseLocator parses the external string forms documented for credential
// location strings: "env::VARNAME", "dynamic::KEYNAME", "path::/path/to/file",
// "none".
func ParseLocator(s string) (Locator, error) {
	switch {
	case s == "none":
		return Locator{Kind: KindMissing}, nil
	case strings.HasPrefix(s, "env::"):
		return Locator{Kind: KindEnv, EnvVar: strings.TrimPrefix(s, "env::")}, nil
	case strings.HasPrefix(s, "dynamic::"):
		return Locator{Kind: KindDynamic, DynamicKey: strings.TrimPrefix(s, "dynamic::")}, nil
	case strings.HasPrefix(s, "path::"):
		return Locator{Kind: KindPath, FilePath: strings.TrimPrefix(s, "path::")}, nil
	default:
		return Locator{}, fmt.Errorf("credential: unrecognized locator %q", s)
	}
}

// Resolve resolves loc to a Secret using the per-request dynamic credential
// map. WithFallback tries Default first; on failure it logs a WARN and
// tries Fallback.
func Resolve(ctx context.Context, loc Locator, dyn Dynamic) (Secret, error) {
	switch loc.Kind {
	case KindMissing:
		return Secret{}, fmt.Errorf("credential: no credential configured")
	case KindStatic:
		return NewSecret(loc.StaticValue), nil
	case KindFileContents:
		return NewSecret(loc.StaticValue), nil
	case KindEnv:
		v, ok := os.LookupEnv(loc.EnvVar)
		if !ok {
			return Secret{}, fmt.Errorf("credential: environment variable %q is not set", loc.EnvVar)
		}
		return NewSecret(v), nil
	case KindDynamic:
		v, ok := dyn[loc.DynamicKey]
		if !ok {
			return Secret{}, fmt.Errorf("credential: dynamic credential %q was not supplied with the request", loc.DynamicKey)
		}
		return NewSecret(v), nil
	case KindPath:
		b, err := os.ReadFile(loc.FilePath)
		if err != nil {
			return Secret{}, fmt.Errorf("credential: read credential file %q: %w", loc.FilePath, err)
		}
		return NewSecret(strings.TrimSpace(string(b))), nil
	case KindWithFallback:
		if loc.Default == nil || loc.Fallback == nil {
			return Secret{}, fmt.Errorf("credential: with_fallback requires both default and fallback locators")
		}
		s, err := Resolve(ctx, *loc.Default, dyn)
		if err == nil {
			return s, nil
		}
		telemetry.Warn(ctx, "credential default resolution failed, trying fallback",
			attribute.String("default_kind", string(loc.Default.Kind)),
			attribute.String("error", err.Error()),
		)
		return Resolve(ctx, *loc.Fallback, dyn)
	default:
		return Secret{}, fmt.Errorf("credential: unknown locator kind %q", loc.Kind)
	}
}
