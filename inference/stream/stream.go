// Package stream implements the Streaming Aggregator (C7): it relays
// provider chunks to the client while buffering them, and on completion (or
// error) hands the buffered chunks to a detached finalization task so that
// observability writes and rate-limit ticket returns happen regardless of
// client-side cancellation. It is grounded on the teacher's detach-a-
// subscriber idiom in runtime/agents/stream/bridge/bridge.go, generalized
// here with context.WithoutCancel so the finalization goroutine survives
// the client's own context being cancelled mid-stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// Event is a single client-visible streamed unit, stamped with the request
// identity so every chunk from a given stream carries the same
// inference_id/episode_id/variant_name, per spec.md §4.6's invariant.
type Event struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	VariantName string

	Chunk provider.Chunk

	// Err is set on the terminal event when the stream ended abnormally;
	// Chunk is zero-valued in that case.
	Err error
}

// Finalizer is invoked once, from the detached finalization task, with the
// fully reassembled response. Implementations typically call the
// Observability Writer and the rate limiter's Return.
type Finalizer interface {
	Finalize(ctx context.Context, result FinalResult)
}

// FinalResult is the canonical response reconstructed from a completed
// stream's buffered chunks.
type FinalResult struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	VariantName  string
	ProviderName string

	Content      []content.Part
	Usage        provider.Usage
	FinishReason provider.FinishReason

	// Err is non-nil if the stream ended in error before a finish chunk was
	// observed; Content/Usage/FinishReason reflect whatever was buffered up
	// to that point.
	Err error
}

// Aggregator relays a single provider.Streamer to the client and reassembles
// its output for finalization.
type Aggregator struct {
	inferenceID  uuid.UUID
	episodeID    uuid.UUID
	variantName  string
	providerName string

	finalizer Finalizer
}

// New constructs an Aggregator for one streaming request.
func New(inferenceID, episodeID uuid.UUID, variantName, providerName string, finalizer Finalizer) *Aggregator {
	return &Aggregator{
		inferenceID:  inferenceID,
		episodeID:    episodeID,
		variantName:  variantName,
		providerName: providerName,
		finalizer:    finalizer,
	}
}

// toolCallBuffer accumulates a single tool call's argument fragments, keyed
// by its provider-issued ID, until a ChunkStop/EOF closes it out.
type toolCallBuffer struct {
	id   string
	name string
	args string
}

// Relay drains src, sending one Event per chunk to out, and on completion
// (success or error) spawns the detached finalization task. Relay itself
// returns once src is exhausted or ctx is cancelled; out is always closed
// before Relay returns, and the finalization task is always scheduled
// first, per spec.md §4.6's ordering requirement.
func (a *Aggregator) Relay(ctx context.Context, src provider.Streamer, out chan<- Event) {
	defer close(out)

	var (
		textBuf     string
		toolCalls   []*toolCallBuffer
		toolByID    = make(map[string]*toolCallBuffer)
		usage       provider.Usage
		finish      provider.FinishReason
		streamErr   error
	)

	for {
		chunk, err := src.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}

		select {
		case out <- Event{InferenceID: a.inferenceID, EpisodeID: a.episodeID, VariantName: a.variantName, Chunk: chunk}:
		case <-ctx.Done():
			streamErr = ctx.Err()
			goto finalize
		}

		switch chunk.Type {
		case provider.ChunkText:
			textBuf += chunk.Text
		case provider.ChunkToolCallDelta:
			buf, ok := toolByID[chunk.ToolCallDeltaID]
			if !ok {
				buf = &toolCallBuffer{id: chunk.ToolCallDeltaID, name: chunk.ToolCallDeltaName}
				toolByID[chunk.ToolCallDeltaID] = buf
				toolCalls = append(toolCalls, buf)
			}
			buf.args += chunk.ToolCallDelta
		case provider.ChunkToolCall:
			if chunk.ToolCall != nil {
				if buf, ok := toolByID[chunk.ToolCall.ID]; ok {
					buf.args = string(chunk.ToolCall.Arguments)
				} else {
					buf := &toolCallBuffer{id: chunk.ToolCall.ID, name: chunk.ToolCall.Name, args: string(chunk.ToolCall.Arguments)}
					toolByID[chunk.ToolCall.ID] = buf
					toolCalls = append(toolCalls, buf)
				}
			}
		case provider.ChunkUsage:
			usage = chunk.Usage
		case provider.ChunkStop:
			if chunk.Usage != (provider.Usage{}) {
				usage = chunk.Usage
			}
			finish = chunk.FinishReason
		}
	}

finalize:
	_ = src.Close()

	parts := make([]content.Part, 0, len(toolCalls)+1)
	if textBuf != "" {
		parts = append(parts, content.TextPart{Text: textBuf})
	}
	for _, tc := range toolCalls {
		parts = append(parts, content.ToolCallPart{ID: tc.id, Name: tc.name, Arguments: json.RawMessage(tc.args)})
	}

	result := FinalResult{
		InferenceID:  a.inferenceID,
		EpisodeID:    a.episodeID,
		VariantName:  a.variantName,
		ProviderName: a.providerName,
		Content:      parts,
		Usage:        usage,
		FinishReason: finish,
		Err:          streamErr,
	}

	// Detach before the last client-visible yield: the finalization task
	// gets a context derived from ctx's values but immune to its
	// cancellation, so observability writes and rate-limit ticket returns
	// still happen after the client disconnects.
	detached := context.WithoutCancel(ctx)
	go a.finalizer.Finalize(detached, result)
}

// ValidateJSONOutput checks a JSON-function's raw output text against the
// function's compiled output schema, returning ierrors.KindJSONSchemaValidation
// on mismatch. Variants populate content.JSONOutputPart.Raw; Relay does not
// call this, so a FinalResult's content reaches the finalizer unvalidated.
func ValidateJSONOutput(raw string, validate func(any) error) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, ierrors.Wrap(ierrors.KindJSONSchemaValidation, err, "stream: json output is not valid json")
	}
	if validate != nil {
		if err := validate(parsed); err != nil {
			return nil, ierrors.Wrap(ierrors.KindJSONSchemaValidation, err, "stream: json output failed schema validation")
		}
	}
	return parsed, nil
}
