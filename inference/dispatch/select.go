package dispatch

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/tensorzero/inference-core/inference/config"
)

// candidate is one variant still eligible for selection.
type candidate struct {
	name   string
	weight float64
}

// weightedOrder computes the episode-stable selection order over candidates
// using the Efraimidis-Spirakis weighted-sampling-without-replacement
// algorithm: each candidate gets a key u_i^(1/w_i), where u_i is a
// deterministic pseudo-uniform value derived from hashing (episodeID,
// name). The candidate with the largest key is picked first.
//
// The key property this buys spec.md §4.1's fallback loop: because u_i
// never changes across calls with the same episodeID, removing a failed
// candidate and recomputing the argmax over the rest always yields the same
// answer as if that candidate had never been in the running — "same
// episode, same variant until it fails" falls out of the math instead of
// needing separate bookkeeping.
func weightedOrder(episodeID uuid.UUID, candidates []candidate) []string {
	type scored struct {
		name string
		key  float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		u := deterministicUniform(episodeID, c.name)
		w := c.weight
		if w <= 0 {
			w = math.SmallestNonzeroFloat64
		}
		key := math.Pow(u, 1.0/w)
		scores = append(scores, scored{name: c.name, key: key})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].key > scores[j].key })

	order := make([]string, len(scores))
	for i, s := range scores {
		order[i] = s.name
	}
	return order
}

// deterministicUniform derives a value in (0, 1] from sha256(episodeID ||
// name), so the same (episode, variant) pair always yields the same sample
// regardless of process restarts or which replica serves the request.
func deterministicUniform(episodeID uuid.UUID, name string) float64 {
	h := sha256.New()
	h.Write(episodeID[:])
	h.Write([]byte(name))
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint64(sum[:8])
	// (n+1) / (2^64) keeps the result in (0, 1], avoiding a zero input to
	// math.Pow's 1/w exponent below.
	return (float64(n) + 1) / (math.MaxUint64 + 1.0)
}

// eligibleCandidates builds the initial candidate set for a function: every
// variant with a positive weight, unless pinned is non-empty, in which case
// the set is exactly {pinned} whenever pinned names a configured variant,
// even a zero-weight one (pinning bypasses the weight filter, per spec.md
// §4.1 step 1). An unknown pinned name yields an empty set, which the caller
// surfaces as an error.
func eligibleCandidates(fn config.FunctionConfig, pinned string) []candidate {
	if pinned != "" {
		if _, ok := fn.Variants[pinned]; ok {
			return []candidate{{name: pinned, weight: 1}}
		}
		return nil
	}
	out := make([]candidate, 0, len(fn.Variants))
	for name, vc := range fn.Variants {
		if vc.Weight != nil && *vc.Weight > 0 {
			out = append(out, candidate{name: name, weight: *vc.Weight})
		}
	}
	return out
}
