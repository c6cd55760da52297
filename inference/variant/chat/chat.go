// Package chat implements the chat-completion variant: the base strategy
// every other variant either is, or is built from (chain-of-thought wraps
// it; best-of-n/mixture-of-n dispatch to a list of them). It is grounded on
// the teacher's single-call adapters (features/model/anthropic/client.go's
// Complete, features/model/bedrock/client.go's Converse): render templates,
// build one provider.Request, dispatch through the Router, return the
// result.
package chat

import (
	"context"
	"fmt"

	"github.com/tensorzero/inference-core/inference/cache"
	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/variant"
)

// Variant implements variant.Variant for a chat_completion config.
type Variant struct {
	name   string
	params config.ChatCompletionParams
	deps   variant.Deps
}

// New constructs a chat-completion Variant.
func New(name string, params config.ChatCompletionParams, deps variant.Deps) *Variant {
	return &Variant{name: name, params: params, deps: deps}
}

// Build renders this variant's templates over req and produces the
// provider-bound request. Infer and InferStream both start from it;
// chain_of_thought reaches it through those after adding its instruction
// message.
func (v *Variant) Build(req *variant.Request) (*provider.Request, error) {
	model, err := v.deps.Models.Lookup(v.params.Model)
	if err != nil {
		return nil, err
	}

	sysText := ""
	if req.System != nil {
		sysText, err = renderPart(v.deps, v.params.SystemTemplate, req.System)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]content.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		rendered, err := v.renderMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, rendered)
	}

	pr := &provider.Request{
		Model:             model.Routing[0],
		System:            sysText,
		Messages:          messages,
		Temperature:       v.params.Temperature,
		TopP:              v.params.TopP,
		MaxTokens:         v.params.MaxTokens,
		Seed:              v.params.Seed,
		PresencePenalty:   v.params.PresencePenalty,
		FrequencyPenalty:  v.params.FrequencyPenalty,
		StopSequences:     v.params.StopSequences,
		Tools:             req.Tools,
		JSONModeStrict:    v.params.JSONMode == config.JSONModeStrict,
		OutputSchema:      req.OutputSchema,
	}
	return pr, nil
}

func (v *Variant) renderMessage(m content.Message) (content.Message, error) {
	tmplName := v.params.UserTemplate
	if m.Role == content.RoleAssistant {
		tmplName = v.params.AssistantTemplate
	}
	if tmplName == "" {
		return m, nil
	}
	out := make([]content.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		t, ok := p.(content.TextPart)
		if !ok {
			out = append(out, p)
			continue
		}
		rendered, err := v.deps.Templates.Render(tmplName, map[string]any{"text": t.Text})
		if err != nil {
			return m, err
		}
		out = append(out, content.TextPart{Text: rendered})
	}
	return content.Message{Role: m.Role, Parts: out}, nil
}

func renderPart(deps variant.Deps, tmplName string, sys *content.System) (string, error) {
	if sys.TemplateName != "" {
		return deps.Templates.Render(sys.TemplateName, sys.Arguments)
	}
	if tmplName == "" {
		return sys.Text, nil
	}
	return deps.Templates.Render(tmplName, map[string]any{"text": sys.Text})
}

// Infer implements variant.Variant.
func (v *Variant) Infer(ctx context.Context, req *variant.Request) (*variant.Result, error) {
	pr, err := v.Build(req)
	if err != nil {
		return nil, err
	}

	var fp string
	if v.deps.Cache != nil {
		fp = cache.Fingerprint(setCacheKey(pr, req.ExtraCacheKey))
		if entry, err := v.deps.Cache.Get(ctx, fp); err == nil {
			resp := entry.ToResponse()
			return toResult(v.name, v.params.Model, "cache", resp), nil
		}
	}

	model, err := v.deps.Models.Lookup(v.params.Model)
	if err != nil {
		return nil, err
	}
	res, err := v.deps.Router.Infer(ctx, model, pr)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, fmt.Sprintf("variant %q: infer", v.name))
	}

	if v.deps.Cache != nil {
		_ = v.deps.Cache.Put(ctx, fp, cache.FromResponse(res.Response))
	}
	return toResult(v.name, v.params.Model, res.ProviderName, res.Response), nil
}

// InferStream implements variant.Variant.
func (v *Variant) InferStream(ctx context.Context, req *variant.Request) (provider.Streamer, error) {
	pr, err := v.Build(req)
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

func setCacheKey(pr *provider.Request, key string) *provider.Request {
	pr.ExtraCacheKey = key
	return pr
}

func toResult(variantName, modelName, providerName string, resp *provider.Response) *variant.Result {
	return &variant.Result{
		Content:      resp.Content,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		VariantName:  variantName,
		ProviderName: providerName,
		RawRequest:   resp.RawRequest,
		RawResponse:  resp.RawResponse,
		ModelInferenceResults: []variant.ModelInferenceResult{{
			ModelName:    modelName,
			ProviderName: providerName,
			Usage:        resp.Usage,
			FinishReason: resp.FinishReason,
			RawRequest:   resp.RawRequest,
			RawResponse:  resp.RawResponse,
		}},
	}
}
