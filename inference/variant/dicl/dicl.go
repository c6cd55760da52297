// Package dicl implements the dynamic in-context-learning variant: embed the
// current input, retrieve the k nearest labeled examples from the example
// store, splice them into the prompt as few-shot demonstrations, and call
// the model directly (no templates, unlike chat_completion — the examples
// themselves are the prompt, per spec.md §4.2).
package dicl

import (
	"context"
	"fmt"

	dstore "github.com/tensorzero/inference-core/inference/dicl"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/embedding"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/variant"
)

// Variant implements variant.Variant for a dicl config.
type Variant struct {
	name   string
	params config.DICLParams
	deps   variant.Deps

	store    *dstore.Store
	embedder *embedding.Embedder
}

// New constructs a DICL Variant.
func New(name string, params config.DICLParams, deps variant.Deps, store *dstore.Store, embedder *embedding.Embedder) *Variant {
	return &Variant{name: name, params: params, deps: deps, store: store, embedder: embedder}
}

func (v *Variant) currentInputText(req *variant.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == content.RoleUser {
			return req.Messages[i].TextOnly()
		}
	}
	return ""
}

func (v *Variant) buildRequest(ctx context.Context, functionName string, req *variant.Request) (*provider.Request, error) {
	model, err := v.deps.Models.Lookup(v.params.Model)
	if err != nil {
		return nil, err
	}

	queryText := v.currentInputText(req)
	vecs, err := v.embedder.Embed(ctx, v.params.EmbeddingModel, []string{queryText})
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, "dicl: embed current input")
	}
	if len(vecs) == 0 {
		return nil, ierrors.New(ierrors.KindInferenceServer, "dicl: embedder returned no vectors")
	}

	examples, err := v.store.NearestNeighbors(ctx, functionName, v.name, vecs[0], v.params.K)
	if err != nil {
		return nil, err
	}

	messages := make([]content.Message, 0, len(examples)*2+len(req.Messages))
	for _, ex := range examples {
		messages = append(messages,
			content.Message{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: ex.Input}}},
			content.Message{Role: content.RoleAssistant, Parts: []content.Part{content.TextPart{Text: ex.Output}}},
		)
	}
	messages = append(messages, req.Messages...)

	return &provider.Request{
		Model:          model.Routing[0],
		Messages:       messages,
		JSONModeStrict: v.params.JSONMode == config.JSONModeStrict,
		OutputSchema:   req.OutputSchema,
	}, nil
}

// Infer implements variant.Variant.
func (v *Variant) Infer(ctx context.Context, req *variant.Request) (*variant.Result, error) {
	pr, err := v.buildRequest(ctx, req.FunctionName, req)
	if err != nil {
		return nil, err
	}
	model, err := v.deps.Models.Lookup(v.params.Model)
	if err != nil {
		return nil, err
	}
	res, err := v.deps.Router.Infer(ctx, model, pr)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, fmt.Sprintf("variant %q: infer", v.name))
	}
	return &variant.Result{
		Content:      res.Response.Content,
		Usage:        res.Response.Usage,
		FinishReason: res.Response.FinishReason,
		VariantName:  v.name,
		ProviderName: res.ProviderName,
		RawRequest:   res.Response.RawRequest,
		RawResponse:  res.Response.RawResponse,
		ModelInferenceResults: []variant.ModelInferenceResult{{
			ModelName:    v.params.Model,
			ProviderName: res.ProviderName,
			Usage:        res.Response.Usage,
			FinishReason: res.Response.FinishReason,
			RawRequest:   res.Response.RawRequest,
			RawResponse:  res.Response.RawResponse,
		}},
	}, nil
}

// InferStream implements variant.Variant.
func (v *Variant) InferStream(ctx context.Context, req *variant.Request) (provider.Streamer, error) {
	pr, err := v.buildRequest(ctx, req.FunctionName, req)
	if err != nil {
		return nil, err
	}
	pr.Stream = true
	model, err := v.deps.Models.Lookup(v.params.Model)
	if err != nil {
		return nil, err
	}
	res, err := v.deps.Router.InferStream(ctx, model, pr)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, fmt.Sprintf("variant %q: infer_stream", v.name))
	}
	return res.Stream, nil
}
