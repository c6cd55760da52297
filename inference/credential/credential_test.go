package credential_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/credential"
)

func TestSecret_StringIsAlwaysRedacted(t *testing.T) {
	s := credential.NewSecret("sk-super-secret")
	require.Equal(t, "[redacted]", s.String())
	require.Equal(t, "sk-super-secret", s.Expose())
	require.True(t, s.IsSet())
}

func TestParseLocator_RecognizesEachForm(t *testing.T) {
	cases := map[string]credential.Kind{
		"none":            credential.KindMissing,
		"env::API_KEY":    credential.KindEnv,
		"dynamic::my_key": credential.KindDynamic,
		"path::/etc/key":  credential.KindPath,
	}
	for s, wantKind := range cases {
		loc, err := credential.ParseLocator(s)
		require.NoError(t, err, s)
		require.Equal(t, wantKind, loc.Kind, s)
	}
}

func TestParseLocator_RejectsUnrecognizedForm(t *testing.T) {
	_, err := credential.ParseLocator("garbage")
	require.Error(t, err)
}

func TestResolve_Static(t *testing.T) {
	s, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindStatic, StaticValue: "v"}, nil)
	require.NoError(t, err)
	require.Equal(t, "v", s.Expose())
}

func TestResolve_Env(t *testing.T) {
	t.Setenv("T0_TEST_CREDENTIAL", "env-value")
	s, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindEnv, EnvVar: "T0_TEST_CREDENTIAL"}, nil)
	require.NoError(t, err)
	require.Equal(t, "env-value", s.Expose())
}

func TestResolve_EnvMissingErrors(t *testing.T) {
	_, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindEnv, EnvVar: "T0_TEST_DOES_NOT_EXIST"}, nil)
	require.Error(t, err)
}

func TestResolve_Dynamic(t *testing.T) {
	s, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindDynamic, DynamicKey: "k"}, credential.Dynamic{"k": "dyn-value"})
	require.NoError(t, err)
	require.Equal(t, "dyn-value", s.Expose())
}

func TestResolve_DynamicMissingErrors(t *testing.T) {
	_, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindDynamic, DynamicKey: "k"}, credential.Dynamic{})
	require.Error(t, err)
}

// TestResolve_WithFallbackFallsBackAndLogsOnDefaultFailure exercises the
// fallback scenario: Default fails to resolve (its env var is unset), so
// Resolve must log a WARN (via telemetry.Warn, exercised here without a
// custom recorder since the package logs through the global no-op logger by
// default) and return Fallback's value instead of the error.
func TestResolve_WithFallbackFallsBackAndLogsOnDefaultFailure(t *testing.T) {
	loc := credential.Locator{
		Kind:     credential.KindWithFallback,
		Default:  &credential.Locator{Kind: credential.KindEnv, EnvVar: "T0_TEST_DOES_NOT_EXIST"},
		Fallback: &credential.Locator{Kind: credential.KindStatic, StaticValue: "fallback-value"},
	}
	s, err := credential.Resolve(context.Background(), loc, nil)
	require.NoError(t, err)
	require.Equal(t, "fallback-value", s.Expose())
}

func TestResolve_WithFallbackPrefersDefaultWhenItSucceeds(t *testing.T) {
	loc := credential.Locator{
		Kind:     credential.KindWithFallback,
		Default:  &credential.Locator{Kind: credential.KindStatic, StaticValue: "default-value"},
		Fallback: &credential.Locator{Kind: credential.KindStatic, StaticValue: "fallback-value"},
	}
	s, err := credential.Resolve(context.Background(), loc, nil)
	require.NoError(t, err)
	require.Equal(t, "default-value", s.Expose())
}

func TestResolve_WithFallbackMissingLocatorsErrors(t *testing.T) {
	_, err := credential.Resolve(context.Background(), credential.Locator{Kind: credential.KindWithFallback}, nil)
	require.Error(t, err)
}

func TestResolve_WithFallbackBothFailPropagatesFallbackError(t *testing.T) {
	loc := credential.Locator{
		Kind:     credential.KindWithFallback,
		Default:  &credential.Locator{Kind: credential.KindEnv, EnvVar: "T0_TEST_DOES_NOT_EXIST"},
		Fallback: &credential.Locator{Kind: credential.KindEnv, EnvVar: "T0_TEST_ALSO_MISSING"},
	}
	_, err := credential.Resolve(context.Background(), loc, nil)
	require.Error(t, err)
}

func TestResolve_UnknownKindErrors(t *testing.T) {
	_, err := credential.Resolve(context.Background(), credential.Locator{Kind: "bogus"}, nil)
	require.Error(t, err)
}
