package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
)

func TestWeightedOrder_DeterministicPerEpisode(t *testing.T) {
	episodeID := uuid.Must(uuid.NewV7())
	cands := []candidate{{name: "a", weight: 1}, {name: "b", weight: 1}, {name: "c", weight: 1}}

	first := weightedOrder(episodeID, cands)
	second := weightedOrder(episodeID, cands)
	require.Equal(t, first, second)
}

func TestWeightedOrder_DifferentEpisodesCanDiffer(t *testing.T) {
	cands := []candidate{{name: "a", weight: 1}, {name: "b", weight: 1}, {name: "c", weight: 1}, {name: "d", weight: 1}}

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		episodeID := uuid.Must(uuid.NewV7())
		order := weightedOrder(episodeID, cands)
		seen[order[0]] = struct{}{}
	}
	require.Greater(t, len(seen), 1, "20 distinct episodes should not all pick the same first candidate")
}

func TestWeightedOrder_RemovingAFailedCandidatePreservesRelativeOrder(t *testing.T) {
	episodeID := uuid.Must(uuid.NewV7())
	cands := []candidate{{name: "a", weight: 1}, {name: "b", weight: 1}, {name: "c", weight: 1}}

	full := weightedOrder(episodeID, cands)
	// Drop whichever candidate was chosen first and recompute.
	remaining := make([]candidate, 0, len(cands)-1)
	for _, c := range cands {
		if c.name != full[0] {
			remaining = append(remaining, c)
		}
	}
	withoutFirst := weightedOrder(episodeID, remaining)
	require.Equal(t, full[1], withoutFirst[0], "removing the winner must not change the argmax over the rest")
}

func TestEligibleCandidates_PinBypassesWeightFilter(t *testing.T) {
	fn := config.FunctionConfig{
		Variants: map[string]config.VariantConfig{
			"zero": {Name: "zero", Weight: floatPtr(0)},
		},
	}
	cands := eligibleCandidates(fn, "zero")
	require.Equal(t, []candidate{{name: "zero", weight: 1}}, cands)
}

func TestEligibleCandidates_UnknownPinReturnsEmpty(t *testing.T) {
	fn := config.FunctionConfig{Variants: map[string]config.VariantConfig{}}
	require.Empty(t, eligibleCandidates(fn, "missing"))
}

func TestEligibleCandidates_ExcludesZeroAndNilWeight(t *testing.T) {
	fn := config.FunctionConfig{
		Variants: map[string]config.VariantConfig{
			"zero": {Name: "zero", Weight: floatPtr(0)},
			"nil":  {Name: "nil", Weight: nil},
			"pos":  {Name: "pos", Weight: floatPtr(0.5)},
		},
	}
	cands := eligibleCandidates(fn, "")
	require.Len(t, cands, 1)
	require.Equal(t, "pos", cands[0].name)
}

func floatPtr(f float64) *float64 { return &f }
