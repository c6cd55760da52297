// Package embedding resolves a model's adapter and calls its Embed method,
// used by the DICL variant to embed the current input for nearest-neighbor
// lookup. It mirrors the Router's adapter-resolution idiom but without
// provider fallback: spec.md §4.2 treats an embedding model as a single
// endpoint, not a routed one, since DICL's retrieval step has no equivalent
// of the chat-completion fallback chain.
package embedding

import (
	"context"
	"fmt"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// Registry resolves a config.ProviderKind + config.ProviderConfig to a live
// provider.Adapter, the same contract router.Registry uses.
type Registry interface {
	Adapter(ctx context.Context, name string, cfg config.ProviderConfig) (provider.Adapter, error)
}

// Embedder embeds text via a configured model's first routed provider.
type Embedder struct {
	registry Registry
	models   *config.ModelTable
}

// New constructs an Embedder.
func New(registry Registry, models *config.ModelTable) *Embedder {
	return &Embedder{registry: registry, models: models}
}

// Embed embeds texts using modelName's first configured provider. It
// returns ierrors.KindInvalidRequest if that provider's adapter doesn't
// implement provider.EmbedCapable.
func (e *Embedder) Embed(ctx context.Context, modelName string, texts []string) ([][]float32, error) {
	model, err := e.models.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	if len(model.Routing) == 0 {
		return nil, ierrors.New(ierrors.KindUnknownModel, fmt.Sprintf("embedding: model %q has no configured providers", modelName))
	}
	name := model.Routing[0]
	cfg := model.Providers[name]
	adapter, err := e.registry.Adapter(ctx, name, cfg)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindProviderNotFound, err, fmt.Sprintf("embedding: resolve adapter for provider %q", name))
	}
	embedder, ok := adapter.(provider.EmbedCapable)
	if !ok {
		return nil, ierrors.New(ierrors.KindInvalidRequest, fmt.Sprintf("embedding: provider %q does not support embeddings", name))
	}
	return embedder.Embed(ctx, texts)
}
