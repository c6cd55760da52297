// Package cot implements the chain-of-thought variant: a chat-completion
// call with an extra instruction message prepended, asking the model to
// reason before answering. It is grounded on the teacher's convention of
// layering behavior onto an existing request builder rather than
// duplicating it (features/model/anthropic/client.go's prepareRequest is
// reused, with a thinking budget, by both Complete and Stream).
package cot

import (
	"context"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/variant"
	"github.com/tensorzero/inference-core/inference/variant/chat"
)

// Variant implements variant.Variant for a chain_of_thought config.
type Variant struct {
	inner        *chat.Variant
	instruction  string
}

// New constructs a chain-of-thought Variant.
func New(name string, params config.ChainOfThoughtParams, deps variant.Deps) *Variant {
	return &Variant{
		inner:       chat.New(name, params.ChatCompletionParams, deps),
		instruction: params.ThoughtInstruction,
	}
}

// withInstruction returns a copy of req with a leading user instruction
// message asking the model to think before producing its final answer. The
// instruction is layered onto the existing message list rather than baked
// into a template, so any of the wrapped chat variant's templates keep
// working unmodified.
func (v *Variant) withInstruction(req *variant.Request) *variant.Request {
	if v.instruction == "" {
		return req
	}
	clone := *req
	instructionMsg := content.Message{
		Role:  content.RoleUser,
		Parts: []content.Part{content.TextPart{Text: v.instruction}},
	}
	clone.Messages = append(append([]content.Message{instructionMsg}), req.Messages...)
	return &clone
}

// Infer implements variant.Variant.
func (v *Variant) Infer(ctx context.Context, req *variant.Request) (*variant.Result, error) {
	return v.inner.Infer(ctx, v.withInstruction(req))
}

// InferStream implements variant.Variant.
func (v *Variant) InferStream(ctx context.Context, req *variant.Request) (provider.Streamer, error) {
	return v.inner.InferStream(ctx, v.withInstruction(req))
}
