// Package router implements the Model Router (C3): for a given model, try
// each configured provider in routing order, accumulating per-provider
// errors, and return the first success. It is grounded line-for-line on
// original_source/gateway/src/model.rs's ModelConfig::infer/infer_stream.
package router

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/telemetry"
)

// Registry resolves a config.ProviderKind + config.ProviderConfig to a live
// provider.Adapter. Implementations typically cache one Adapter per
// (kind, credential) pair.
type Registry interface {
	Adapter(ctx context.Context, name string, cfg config.ProviderConfig) (provider.Adapter, error)
}

// Router dispatches a request across a ModelConfig's ordered provider list.
type Router struct {
	registry Registry
}

// New constructs a Router backed by the given adapter Registry.
func New(registry Registry) *Router {
	return &Router{registry: registry}
}

// Result wraps a successful provider.Response with the name of the provider
// that produced it, since the router itself doesn't know which attempt in
// the routing list will succeed ahead of time.
type Result struct {
	ProviderName string
	Response     *provider.Response
}

// Infer tries each provider in model.Routing order, returning the first
// success. On exhaustion it returns *ierrors.ModelProvidersExhausted
// carrying every accumulated per-provider error. The router does not retry
// (spec.md §4.3): a provider that fails once is not retried within this
// call. The variants above it do not retry either: each calls the router
// once per attempt, and the config's RetryCount field is not read.
func (r *Router) Infer(ctx context.Context, model config.ModelConfig, req *provider.Request) (*Result, error) {
	providerErrors := make(map[string]error, len(model.Routing))
	for _, name := range model.Routing {
		cfg, ok := model.Providers[name]
		if !ok {
			return nil, ierrors.New(ierrors.KindProviderNotFound, fmt.Sprintf("router: provider %q not found in model config", name))
		}
		adapter, err := r.registry.Adapter(ctx, name, cfg)
		if err != nil {
			return nil, ierrors.Wrap(ierrors.KindProviderNotFound, err, fmt.Sprintf("router: resolve adapter for provider %q", name))
		}
		resp, err := adapter.Infer(ctx, withModelID(req, cfg))
		if err == nil {
			return &Result{ProviderName: name, Response: resp}, nil
		}
		telemetry.Warn(ctx, "provider attempt failed, trying next in routing order",
			attribute.String("provider", name),
			attribute.String("error", err.Error()),
		)
		providerErrors[name] = err
	}
	return nil, &ierrors.ModelProvidersExhausted{ProviderErrors: providerErrors}
}

// StreamResult wraps a provider.Streamer with the provider name that
// produced it.
type StreamResult struct {
	ProviderName string
	Stream       provider.Streamer
}

// InferStream tries each provider in routing order. Per spec.md §4.3, the
// first chunk of a stream must be received successfully before InferStream
// returns; a provider that opens a stream but fails its first Recv is
// treated the same as a provider whose Infer call failed outright, and the
// router advances to the next provider. Chunk errors after the first chunk
// surface only through the returned Streamer, never here.
func (r *Router) InferStream(ctx context.Context, model config.ModelConfig, req *provider.Request) (*StreamResult, error) {
	providerErrors := make(map[string]error, len(model.Routing))
	for _, name := range model.Routing {
		cfg, ok := model.Providers[name]
		if !ok {
			return nil, ierrors.New(ierrors.KindProviderNotFound, fmt.Sprintf("router: provider %q not found in model config", name))
		}
		adapter, err := r.registry.Adapter(ctx, name, cfg)
		if err != nil {
			return nil, ierrors.Wrap(ierrors.KindProviderNotFound, err, fmt.Sprintf("router: resolve adapter for provider %q", name))
		}
		st, err := adapter.InferStream(ctx, withModelID(req, cfg))
		if err != nil {
			telemetry.Warn(ctx, "provider stream open failed, trying next in routing order",
				attribute.String("provider", name), attribute.String("error", err.Error()))
			providerErrors[name] = err
			continue
		}
		first, peekErr := st.Recv()
		if peekErr != nil {
			_ = st.Close()
			telemetry.Warn(ctx, "provider stream failed before first chunk, trying next in routing order",
				attribute.String("provider", name), attribute.String("error", peekErr.Error()))
			providerErrors[name] = peekErr
			continue
		}
		return &StreamResult{ProviderName: name, Stream: newPrependStream(first, st)}, nil
	}
	return nil, &ierrors.ModelProvidersExhausted{ProviderErrors: providerErrors}
}

func withModelID(req *provider.Request, cfg config.ProviderConfig) *provider.Request {
	if cfg.ModelID == "" {
		return req
	}
	clone := *req
	clone.Model = cfg.ModelID
	return &clone
}

// prependStream re-delivers an already-received first chunk ahead of the
// underlying Streamer's remaining output, so InferStream's one-chunk peek
// (needed to decide whether this provider "succeeded") is invisible to the
// caller.
type prependStream struct {
	first     provider.Chunk
	delivered bool
	inner     provider.Streamer
}

func newPrependStream(first provider.Chunk, inner provider.Streamer) *prependStream {
	return &prependStream{first: first, inner: inner}
}

func (s *prependStream) Recv() (provider.Chunk, error) {
	if !s.delivered {
		s.delivered = true
		return s.first, nil
	}
	return s.inner.Recv()
}

func (s *prependStream) Close() error { return s.inner.Close() }
