package dispatch

import (
	"fmt"
	"sync"

	dstore "github.com/tensorzero/inference-core/inference/dicl"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/embedding"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/variant"
	"github.com/tensorzero/inference-core/inference/variant/bestofn"
	"github.com/tensorzero/inference-core/inference/variant/chat"
	"github.com/tensorzero/inference-core/inference/variant/cot"
	variantdicl "github.com/tensorzero/inference-core/inference/variant/dicl"
	"github.com/tensorzero/inference-core/inference/variant/mixtureofn"
)

// variantRegistry builds and memoizes variant.Variant instances per
// (function, variant) pair, and implements variant.Resolver so
// best-of-n/mixture-of-n can fetch sibling candidates through the same
// lazy-build-and-cache path as top-level dispatch, per config.
// CandidateVariant's name-indirection contract.
type variantRegistry struct {
	functions map[string]config.FunctionConfig
	deps      variant.Deps
	diclStore *dstore.Store
	embedder  *embedding.Embedder

	mu    sync.Mutex
	built map[string]variant.Variant // "function\x00variant" -> instance
}

func newVariantRegistry(functions map[string]config.FunctionConfig, deps variant.Deps, diclStore *dstore.Store, embedder *embedding.Embedder) *variantRegistry {
	return &variantRegistry{
		functions: functions,
		deps:      deps,
		diclStore: diclStore,
		embedder:  embedder,
		built:     make(map[string]variant.Variant),
	}
}

func cacheKey(functionName, variantName string) string {
	return functionName + "\x00" + variantName
}

// Variant implements variant.Resolver.
func (r *variantRegistry) Variant(functionName, variantName string) (variant.Variant, error) {
	key := cacheKey(functionName, variantName)

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.built[key]; ok {
		return v, nil
	}

	fn, ok := r.functions[functionName]
	if !ok {
		return nil, ierrors.New(ierrors.KindUnknownFunction, fmt.Sprintf("dispatch: unknown function %q", functionName))
	}
	vc, ok := fn.Variants[variantName]
	if !ok {
		return nil, ierrors.New(ierrors.KindUnknownVariant, fmt.Sprintf("dispatch: function %q has no variant %q", functionName, variantName))
	}

	v, err := r.build(functionName, vc)
	if err != nil {
		return nil, err
	}
	r.built[key] = v
	return v, nil
}

func (r *variantRegistry) build(functionName string, vc config.VariantConfig) (variant.Variant, error) {
	switch vc.Kind {
	case config.VariantChatCompletion:
		if vc.Chat == nil {
			return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q declared chat_completion but has no params", vc.Name))
		}
		return chat.New(vc.Name, *vc.Chat, r.deps), nil

	case config.VariantChainOfThought:
		if vc.ChainOfThought == nil {
			return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q declared chain_of_thought but has no params", vc.Name))
		}
		return cot.New(vc.Name, *vc.ChainOfThought, r.deps), nil

	case config.VariantBestOfN:
		if vc.BestOfN == nil {
			return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q declared best_of_n but has no params", vc.Name))
		}
		return bestofn.New(vc.Name, functionName, *vc.BestOfN, r.deps, r), nil

	case config.VariantMixtureOfN:
		if vc.MixtureOfN == nil {
			return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q declared mixture_of_n but has no params", vc.Name))
		}
		return mixtureofn.New(vc.Name, functionName, *vc.MixtureOfN, r.deps, r), nil

	case config.VariantDICL:
		if vc.DICL == nil {
			return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q declared dicl but has no params", vc.Name))
		}
		return variantdicl.New(vc.Name, *vc.DICL, r.deps, r.diclStore, r.embedder), nil

	default:
		return nil, ierrors.New(ierrors.KindConfig, fmt.Sprintf("dispatch: variant %q has unrecognized kind %q", vc.Name, vc.Kind))
	}
}
