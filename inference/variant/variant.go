// Package variant implements the Variant Engine (C5): the polymorphic
// inference strategies (chat completion, best-of-n, mixture-of-n,
// chain-of-thought, DICL) that sit between the Function Dispatcher and the
// Model Router. Each strategy renders templates over the request, builds
// one or more provider.Request values, dispatches them through the Router,
// and reduces the result(s) back into canonical content.
package variant

import (
	"context"

	"github.com/google/uuid"

	"github.com/tensorzero/inference-core/inference/cache"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/template"
)

// Request is the canonical, already-resolved input to a variant: the
// function's input messages, not yet rendered against any particular
// variant's templates.
type Request struct {
	FunctionName string
	FunctionKind config.FunctionKind

	System   *content.System
	Messages []content.Message

	Tools             content.ToolConfig
	ParallelToolCalls bool

	OutputSchema any

	// EpisodeID is the request's episode id as set by the dispatcher. None
	// of the variants in this module read it.
	EpisodeID uuid.UUID

	// ExtraCacheKey, when non-empty, is folded into this request's cache
	// fingerprint so otherwise-identical calls stay distinct. The
	// dispatcher leaves this empty; Best-of-N/Mixture-of-N set it to each
	// candidate's ordinal before delegating, per spec.md §4.2.
	ExtraCacheKey string
}

// Result is a variant's reduced output, already in canonical content form.
type Result struct {
	Content      []content.Part
	Usage        provider.Usage
	FinishReason provider.FinishReason
	VariantName  string
	ProviderName string
	RawRequest   string
	RawResponse  string

	// ModelInferenceResults records every underlying provider call that
	// contributed to this Result, in call order: chat/chain-of-thought/dicl
	// contribute exactly one, best-of-n/mixture-of-n contribute one per
	// candidate plus the judge/fuser call (spec.md §4.2.2). Usage is the
	// sum across all of them.
	ModelInferenceResults []ModelInferenceResult
}

// ModelInferenceResult is one provider call's accounting, carried alongside
// a Result so the Observability Writer can persist one ModelInferenceRow per
// entry regardless of how many providers a variant actually called.
type ModelInferenceResult struct {
	ModelName    string
	ProviderName string
	Usage        provider.Usage
	FinishReason provider.FinishReason
	RawRequest   string
	RawResponse  string
}

// Variant is the contract every strategy implements.
type Variant interface {
	Infer(ctx context.Context, req *Request) (*Result, error)
	InferStream(ctx context.Context, req *Request) (provider.Streamer, error)
}

// Resolver looks up a sibling variant by name within the same function, used
// by Best-of-N/Mixture-of-N to dispatch to their candidate list without
// holding a direct reference (candidates are resolved fresh on every call,
// per config.CandidateVariant's doc comment).
type Resolver interface {
	Variant(functionName, variantName string) (Variant, error)
}

// Deps bundles the shared collaborators every variant needs: the model
// table, a Router to dispatch through, the template Renderer for this
// function's config, and an optional response Cache (nil disables caching).
type Deps struct {
	Models    *config.ModelTable
	Router    *router.Router
	Templates *template.Renderer
	Cache     *cache.Store
}

// renderSystem renders req.System (if using a named template) and returns
// the flat system prompt to attach to the outgoing provider.Request.
func renderSystem(templates *template.Renderer, sys *content.System) (string, error) {
	if sys == nil {
		return "", nil
	}
	if sys.TemplateName == "" {
		return sys.Text, nil
	}
	return templates.Render(sys.TemplateName, sys.Arguments)
}

// cacheFingerprint builds the cache key for req including its candidate
// disambiguator, if any.
func cacheFingerprint(pr *provider.Request, extraCacheKey string) string {
	pr.ExtraCacheKey = extraCacheKey
	return cache.Fingerprint(pr)
}
