// Package provider defines the common contract every provider adapter
// implements (C2): translating a canonical Request into a provider's wire
// format, invoking the network, and translating the response/stream back.
// It also holds the cross-provider helpers (finish-reason mapping, HTTP
// status classification, extra_body/extra_headers splicing) so individual
// adapters don't reimplement them.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tensorzero/inference-core/inference/content"
)

// FinishReason is the canonical reason generation stopped, after mapping
// from a provider-specific value.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// MapFinishReason translates a provider's native finish/stop reason string
// into the canonical FinishReason, per the mapping table in spec.md §4.4.
func MapFinishReason(native string) FinishReason {
	switch strings.ToLower(native) {
	case "stop", "end_turn":
		return FinishStop
	case "length", "max_tokens", "model_length":
		return FinishLength
	case "tool_calls", "tool_use":
		return FinishToolCall
	case "content_filtered", "guardrail_intervened":
		return FinishContentFilter
	default:
		return FinishUnknown
	}
}

// BodyMutation splices a single value into a JSON request body at path
// before the request is sent, implementing the extra_body mechanism from
// spec.md §4.4. Path segments are separated by '.' and each one indexes into
// a JSON object, created when missing; a numeric segment is used as an
// object key, not as an array index.
type BodyMutation struct {
	Path  string
	Value any
}

// HeaderMutation names a single HTTP header for the outgoing provider
// request (extra_headers). No adapter in this module applies
// Request.ExtraHeaders; the mutations are carried on the Request only.
type HeaderMutation struct {
	Name  string
	Value string
}

// ApplyBodyMutations applies muts to body in order, creating intermediate
// maps as needed. body is mutated in place and also returned for chaining.
func ApplyBodyMutations(body map[string]any, muts []BodyMutation) (map[string]any, error) {
	for _, m := range muts {
		segs := strings.Split(m.Path, ".")
		if err := setPath(body, segs, m.Value); err != nil {
			return nil, fmt.Errorf("provider: apply extra_body mutation %q: %w", m.Path, err)
		}
	}
	return body, nil
}

func setPath(node map[string]any, segs []string, value any) error {
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	key := segs[0]
	if len(segs) == 1 {
		node[key] = value
		return nil
	}
	next, ok := node[key].(map[string]any)
	if !ok {
		next = map[string]any{}
		node[key] = next
	}
	return setPath(next, segs[1:], value)
}

// IsArrayIndex reports whether seg names an array index rather than an
// object key. Kept as a named helper so adapters that need array-shaped
// extra_body paths (e.g. tools.0.name) can special-case it; the default
// setPath above only handles object nesting, which covers every documented
// extra_body use case in the examples the adapters are tested against.
func IsArrayIndex(seg string) bool {
	_, err := strconv.Atoi(seg)
	return err == nil
}

type (
	// Request is the canonical provider-bound request: a fully rendered,
	// provider-neutral chat completion call. Variants build this from
	// templated content.Messages before handing it to the Model Router.
	Request struct {
		Model string

		System   string
		Messages []content.Message

		Temperature      *float32
		TopP             *float32
		MaxTokens        *int
		Seed             *int64
		PresencePenalty  *float32
		FrequencyPenalty *float32
		StopSequences    []string

		Tools content.ToolConfig

		Stream bool

		// JSONModeStrict requests strict JSON-mode output; OutputSchema, when
		// non-nil, is the schema to attach. The OpenAI-compatible adapter
		// (which also serves Azure and Gemini) sends it as response_format;
		// the Anthropic adapter appends a JSON-prefill assistant message; the
		// Bedrock adapter does not act on JSONModeStrict.
		JSONModeStrict bool
		OutputSchema   any

		ExtraBody    []BodyMutation
		ExtraHeaders []HeaderMutation

		// ExtraCacheKey differentiates otherwise-identical requests for
		// cache-fingerprinting purposes (injected by Best-of-N/Mixture-of-N
		// with the candidate index, per spec.md §4.2/§4.7).
		ExtraCacheKey string
	}

	// Response is the result of a non-streaming adapter call.
	Response struct {
		Content      []content.Part
		ToolCalls    []content.ToolCallPart
		Usage        Usage
		FinishReason FinishReason

		RawRequest  string
		RawResponse string
	}

	// Usage tracks token counts for a single provider call.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// ChunkType classifies a single streamed Chunk.
	ChunkType string
)

const (
	ChunkText          ChunkType = "text"
	ChunkToolCall      ChunkType = "tool_call"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkThought       ChunkType = "thought"
	ChunkUsage         ChunkType = "usage"
	ChunkStop          ChunkType = "stop"
)

// Chunk is a single streamed event from a provider.
type Chunk struct {
	Type ChunkType

	Text     string
	Thought  string
	ToolCall *content.ToolCallPart

	// ToolCallDelta carries an incremental tool-call argument fragment.
	// Providers emit tool name/id only on the first chunk for a given call;
	// adapters must buffer those across subsequent deltas (spec.md §4.4).
	ToolCallDeltaID   string
	ToolCallDeltaName string
	ToolCallDelta     string

	Usage        Usage
	FinishReason FinishReason
}

// Streamer delivers incremental chunks from a single streaming call.
type Streamer interface {
	// Recv returns the next chunk, or io.EOF when the stream completes
	// normally.
	Recv() (Chunk, error)
	Close() error
}

// Adapter is the contract every provider implementation satisfies.
type Adapter interface {
	Infer(ctx context.Context, req *Request) (*Response, error)
	InferStream(ctx context.Context, req *Request) (Streamer, error)
}

// BatchCapable is implemented by adapters that support asynchronous batch
// inference (not all providers do); callers type-assert for it.
type BatchCapable interface {
	StartBatchInference(ctx context.Context, reqs []*Request) (batchID string, err error)
	PollBatchInference(ctx context.Context, batchID string) ([]*Response, bool, error)
}

// EmbedCapable is implemented by adapters that can embed text, used by the
// DICL variant's embedding_model.
type EmbedCapable interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
