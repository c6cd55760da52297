package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
)

func TestParseShorthand_ValidPrefix(t *testing.T) {
	m, err := config.ParseShorthand("openai::gpt-4o")
	require.NoError(t, err)
	require.Equal(t, []string{"shorthand"}, m.Routing)
	require.Equal(t, config.ProviderOpenAI, m.Providers["shorthand"].Kind)
	require.Equal(t, "gpt-4o", m.Providers["shorthand"].ModelID)
}

func TestParseShorthand_UnknownPrefixErrors(t *testing.T) {
	_, err := config.ParseShorthand("not_a_provider::foo")
	require.Error(t, err)
}

func TestParseShorthand_MissingSeparatorErrors(t *testing.T) {
	_, err := config.ParseShorthand("openai-gpt-4o")
	require.Error(t, err)
}

func TestModelConfig_Validate_RejectsRoutingToUnknownProvider(t *testing.T) {
	m := config.ModelConfig{Routing: []string{"missing"}, Providers: map[string]config.ProviderConfig{}}
	require.Error(t, m.Validate())
}

func TestModelTable_Lookup_ReturnsSeededModelDirectly(t *testing.T) {
	seeded := config.ModelConfig{Routing: []string{"p"}, Providers: map[string]config.ProviderConfig{"p": {Kind: config.ProviderOpenAI, ModelID: "gpt-4o"}}}
	table := config.NewModelTable(map[string]config.ModelConfig{"my-model": seeded})

	got, err := table.Lookup("my-model")
	require.NoError(t, err)
	require.Equal(t, seeded, got)
}

func TestModelTable_Lookup_MaterializesShorthandOnFirstUse(t *testing.T) {
	table := config.NewModelTable(nil)

	got, err := table.Lookup("dummy::good")
	require.NoError(t, err)
	require.Equal(t, config.ProviderDummy, got.Providers["shorthand"].Kind)
	require.Equal(t, "good", got.Providers["shorthand"].ModelID)

	// A second lookup must return the same materialized entry rather than
	// re-parsing (or erroring).
	again, err := table.Lookup("dummy::good")
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestModelTable_Lookup_UnknownUnparsableNameErrors(t *testing.T) {
	table := config.NewModelTable(nil)
	_, err := table.Lookup("not-a-shorthand-or-seeded-name")
	require.Error(t, err)
}
