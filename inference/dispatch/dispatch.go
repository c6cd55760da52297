// Package dispatch implements the Function Dispatcher (C6): resolves a
// request's target function (or synthesizes a default one for model_name
// requests), runs the episode-stable weighted variant-selection state
// machine, and drives fallback across candidate variants on failure. It is
// grounded on the teacher's explicit-phase-enum state machine shape
// (runtime/agent/runtime/workflow.go drives activity retries with a switch
// over a phase enum rather than recursion) and on
// original_source/tensorzero-internal's variant-sampling description
// referenced from SPEC_FULL.md.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dstore "github.com/tensorzero/inference-core/inference/dicl"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/embedding"
	"github.com/tensorzero/inference-core/inference/ids"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/objectstore"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/variant"
)

// DefaultFunctionName is the pseudo-function synthesized for a model_name
// request, per spec.md §4.1.
const DefaultFunctionName = "tensorzero::default"

// ReservedTagPrefix marks tag names reserved for internal use; a
// caller-supplied tag with this prefix is rejected unless the request is
// marked Internal.
const ReservedTagPrefix = "tensorzero::"

// Request is the public inference entry point's argument. Exactly one of
// FunctionName/ModelName must be set (InvalidInferenceTarget otherwise);
// VariantName may only be set alongside FunctionName.
type Request struct {
	FunctionName string
	ModelName    string

	EpisodeID string // optional; caller-supplied UUIDv7 string

	System   *content.System
	Messages []content.Message

	Stream bool

	VariantName string // pin

	Dryrun bool

	Tags map[string]string

	Tools        content.ToolConfig
	OutputSchema any

	Internal bool
}

// Response is the dispatcher's synchronous result.
type Response struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	FunctionKind config.FunctionKind
	VariantName  string
	Content      []content.Part
	Usage        provider.Usage
	FinishReason provider.FinishReason
	Latency      time.Duration
	RawRequest   string
	RawResponse  string
	Cached       bool

	// ModelInferenceResults is the chosen variant's per-provider-call
	// accounting, carried through unchanged so the Observability Writer can
	// persist one ModelInferenceRow per entry (spec.md §4.2.2, §6).
	ModelInferenceResults []variant.ModelInferenceResult
}

// StreamResponse is the dispatcher's result for a streaming request: the
// chosen variant/provider identity plus the live chunk stream, which the
// caller (the HTTP layer's SSE writer, via the Streaming Aggregator in C7)
// drains and relays.
type StreamResponse struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	VariantName string
	Stream      provider.Streamer
}

// Dispatcher ties together the function table, variant registry, and
// object-store resolver.
type Dispatcher struct {
	functions map[string]config.FunctionConfig
	registry  *variantRegistry
	objects   *objectstore.Resolver

	now func() time.Time
}

// New constructs a Dispatcher. diclStore/embedder may be nil if no function
// in functions uses a dicl variant. objects may be nil if no function ever
// references externally stored file content.
func New(
	functions map[string]config.FunctionConfig,
	deps variant.Deps,
	diclStore *dstore.Store,
	embedder *embedding.Embedder,
	objects *objectstore.Resolver,
) *Dispatcher {
	return &Dispatcher{
		functions: functions,
		registry:  newVariantRegistry(functions, deps, diclStore, embedder),
		objects:   objects,
		now:       time.Now,
	}
}

// resolveTarget validates the XOR of FunctionName/ModelName and, for a
// model_name request, synthesizes the default single-variant chat function
// referencing that model.
func (d *Dispatcher) resolveTarget(req *Request) (string, config.FunctionConfig, error) {
	hasFunction := req.FunctionName != ""
	hasModel := req.ModelName != ""
	if hasFunction == hasModel {
		return "", config.FunctionConfig{}, ierrors.New(ierrors.KindInvalidInferenceTarget, "exactly one of function_name or model_name must be set")
	}
	if hasModel && req.VariantName != "" {
		return "", config.FunctionConfig{}, ierrors.New(ierrors.KindInvalidInferenceTarget, "variant_name cannot be set together with model_name")
	}

	if hasModel {
		weight := 1.0
		fn := config.FunctionConfig{
			Name: DefaultFunctionName,
			Kind: config.FunctionChat,
			Variants: map[string]config.VariantConfig{
				"default": {
					Name:   "default",
					Kind:   config.VariantChatCompletion,
					Weight: &weight,
					Chat:   &config.ChatCompletionParams{Model: req.ModelName},
				},
			},
		}
		return DefaultFunctionName, fn, nil
	}

	fn, ok := d.functions[req.FunctionName]
	if !ok {
		return "", config.FunctionConfig{}, ierrors.New(ierrors.KindUnknownFunction, fmt.Sprintf("unknown function %q", req.FunctionName))
	}
	return req.FunctionName, fn, nil
}

// validateTags rejects reserved-prefixed tag names on non-internal requests.
func validateTags(tags map[string]string, internal bool) error {
	if internal {
		return nil
	}
	for k := range tags {
		if strings.HasPrefix(k, ReservedTagPrefix) {
			return ierrors.New(ierrors.KindInvalidRequest, fmt.Sprintf("tag %q uses the reserved prefix %q", k, ReservedTagPrefix))
		}
	}
	return nil
}

// prepare runs the entry-point validation/ID-generation steps common to
// Infer and InferStream: target resolution, tag validation, ID generation,
// and object-store resolution of the input messages.
func (d *Dispatcher) prepare(ctx context.Context, req *Request) (uuid.UUID, uuid.UUID, config.FunctionConfig, string, []content.Message, error) {
	functionName, fn, err := d.resolveTarget(req)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, config.FunctionConfig{}, "", nil, err
	}
	if err := validateTags(req.Tags, req.Internal); err != nil {
		return uuid.UUID{}, uuid.UUID{}, config.FunctionConfig{}, "", nil, err
	}

	inferenceID, err := ids.NewInferenceID()
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, config.FunctionConfig{}, "", nil, ierrors.Wrap(ierrors.KindInternal, err, "generate inference_id")
	}

	episodeID := inferenceID
	if req.EpisodeID != "" {
		episodeID, err = ids.ValidateEpisodeID(req.EpisodeID, d.now())
		if err != nil {
			return uuid.UUID{}, uuid.UUID{}, config.FunctionConfig{}, "", nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "validate episode_id")
		}
	}

	messages := req.Messages
	if d.objects != nil {
		messages, err = d.objects.ResolveMessages(ctx, req.Messages)
		if err != nil {
			return uuid.UUID{}, uuid.UUID{}, config.FunctionConfig{}, "", nil, err
		}
	}

	return inferenceID, episodeID, fn, functionName, messages, nil
}

// Infer runs the full SelectVariant -> RunVariant -> {Success | RecordError
// -> SelectVariant | Exhausted} state machine for a non-streaming request.
func (d *Dispatcher) Infer(ctx context.Context, req *Request) (*Response, error) {
	inferenceID, episodeID, fn, functionName, messages, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := d.now()
	vreq := &variant.Request{
		FunctionName: functionName,
		FunctionKind: fn.Kind,
		System:       req.System,
		Messages:     messages,
		Tools:        req.Tools,
		OutputSchema: req.OutputSchema,
		EpisodeID:    episodeID,
	}

	remaining := eligibleCandidates(fn, req.VariantName)
	if len(remaining) == 0 {
		return nil, ierrors.New(ierrors.KindUnknownVariant, fmt.Sprintf("function %q has no eligible variant (pinned=%q)", functionName, req.VariantName))
	}

	errs := make(map[string]error)
	for len(remaining) > 0 {
		order := weightedOrder(episodeID, remaining)
		chosenName := order[0]

		v, err := d.registry.Variant(functionName, chosenName)
		if err != nil {
			errs[chosenName] = err
			remaining = withoutCandidate(remaining, chosenName)
			continue
		}

		res, err := v.Infer(ctx, vreq)
		if err != nil {
			errs[chosenName] = err
			remaining = withoutCandidate(remaining, chosenName)
			continue
		}

		return &Response{
			InferenceID:           inferenceID,
			EpisodeID:             episodeID,
			FunctionName:          functionName,
			FunctionKind:          fn.Kind,
			VariantName:           chosenName,
			Content:               res.Content,
			Usage:                 res.Usage,
			FinishReason:          res.FinishReason,
			Latency:               d.now().Sub(start),
			RawRequest:            res.RawRequest,
			RawResponse:           res.RawResponse,
			ModelInferenceResults: res.ModelInferenceResults,
		}, nil
	}

	return nil, &ierrors.AllVariantsFailed{Errors: errs}
}

// InferStream runs the same selection state machine but for a streaming
// request: a variant's first chunk must arrive before it's considered a
// success, matching the Router's one-chunk-peek contract one layer down.
func (d *Dispatcher) InferStream(ctx context.Context, req *Request) (*StreamResponse, error) {
	inferenceID, episodeID, fn, functionName, messages, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	vreq := &variant.Request{
		FunctionName: functionName,
		FunctionKind: fn.Kind,
		System:       req.System,
		Messages:     messages,
		Tools:        req.Tools,
		OutputSchema: req.OutputSchema,
		EpisodeID:    episodeID,
	}

	remaining := eligibleCandidates(fn, req.VariantName)
	if len(remaining) == 0 {
		return nil, ierrors.New(ierrors.KindUnknownVariant, fmt.Sprintf("function %q has no eligible variant (pinned=%q)", functionName, req.VariantName))
	}

	errs := make(map[string]error)
	for len(remaining) > 0 {
		order := weightedOrder(episodeID, remaining)
		chosenName := order[0]

		v, err := d.registry.Variant(functionName, chosenName)
		if err != nil {
			errs[chosenName] = err
			remaining = withoutCandidate(remaining, chosenName)
			continue
		}

		st, err := v.InferStream(ctx, vreq)
		if err != nil {
			errs[chosenName] = err
			remaining = withoutCandidate(remaining, chosenName)
			continue
		}

		return &StreamResponse{
			InferenceID: inferenceID,
			EpisodeID:   episodeID,
			VariantName: chosenName,
			Stream:      st,
		}, nil
	}

	return nil, &ierrors.AllVariantsFailed{Errors: errs}
}

func withoutCandidate(cands []candidate, name string) []candidate {
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.name != name {
			out = append(out, c)
		}
	}
	return out
}
