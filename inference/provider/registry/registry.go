// Package registry implements router.Registry and embedding.Registry: it
// resolves a config.ProviderConfig to a live provider.Adapter, constructing
// and caching one adapter instance per (kind, provider name, model id,
// endpoint) key
// so repeated requests against the same provider reuse a single underlying
// SDK client. It is grounded on the teacher's registry/cmd/registry style of
// env-driven client construction, generalized here into a per-request
// resolution path keyed by the loaded config rather than process startup
// flags, since a ModelTable can grow new shorthand-materialized providers
// after startup.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaiSDK "github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/credential"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/provider/anthropic"
	"github.com/tensorzero/inference-core/inference/provider/bedrock"
	"github.com/tensorzero/inference-core/inference/provider/dummy"
	"github.com/tensorzero/inference-core/inference/provider/gcpauth"
	"github.com/tensorzero/inference-core/inference/provider/gemini"
	"github.com/tensorzero/inference-core/inference/provider/openai"
)

// openAICompatible lists provider kinds served directly by the OpenAI Chat
// Completions wire format against an alternate base URL: Azure OpenAI,
// Fireworks, Together, vLLM, and xAI all accept the same request shape with
// different hosts and auth headers. Gemini's two surfaces (Vertex/AI
// Studio) speak the same wire format too but are dispatched through
// provider/gemini instead, since their credential handling differs from a
// plain static-API-key OpenAI-compatible provider.
var openAICompatible = map[config.ProviderKind]struct{}{
	config.ProviderAzure:     {},
	config.ProviderFireworks: {},
	config.ProviderTogether:  {},
	config.ProviderVLLM:      {},
	config.ProviderXAI:       {},
}

// DummyBehaviors configures the "dummy" provider kind's canned responses,
// passed straight through to provider/dummy.New; used for dryrun/testing
// deployments that need no live credentials.
type DummyBehaviors = map[string]dummy.Behavior

// Registry implements router.Registry and embedding.Registry.
type Registry struct {
	httpClient *http.Client
	dummy      DummyBehaviors

	mu       sync.Mutex
	adapters map[string]provider.Adapter
	gcpAuth  map[string]*gcpauth.TokenSource
}

// New constructs a Registry. dummyBehaviors may be nil if no model routes
// through the dummy provider.
func New(dummyBehaviors DummyBehaviors) *Registry {
	return &Registry{
		httpClient: http.DefaultClient,
		dummy:      dummyBehaviors,
		adapters:   make(map[string]provider.Adapter),
		gcpAuth:    make(map[string]*gcpauth.TokenSource),
	}
}

// Adapter implements router.Registry/embedding.Registry.
func (r *Registry) Adapter(ctx context.Context, name string, cfg config.ProviderConfig) (provider.Adapter, error) {
	key := cacheKey(name, cfg)

	r.mu.Lock()
	if a, ok := r.adapters[key]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	a, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.adapters[key] = a
	r.mu.Unlock()
	return a, nil
}

func cacheKey(name string, cfg config.ProviderConfig) string {
	return fmt.Sprintf("%s|%s|%s|%s", cfg.Kind, name, cfg.ModelID, cfg.Endpoint)
}

func (r *Registry) build(ctx context.Context, cfg config.ProviderConfig) (provider.Adapter, error) {
	if _, ok := openAICompatible[cfg.Kind]; ok {
		return r.buildOpenAICompatible(ctx, cfg)
	}

	switch cfg.Kind {
	case config.ProviderOpenAI:
		return r.buildOpenAICompatible(ctx, cfg)

	case config.ProviderAnthropic:
		secret, err := r.resolveSecret(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts := []anthropicOption.RequestOption{anthropicOption.WithAPIKey(secret.Expose())}
		if cfg.Endpoint != "" {
			opts = append(opts, anthropicOption.WithBaseURL(cfg.Endpoint))
		}
		client := anthropicSDK.NewClient(opts...)
		return anthropic.New(&client.Messages, anthropic.Options{DefaultModel: cfg.ModelID})

	case config.ProviderGCPVertexAnthropic:
		tok, err := r.tokenSourceFor(cfg)
		if err != nil {
			return nil, err
		}
		accessToken, err := tok.Token(ctx)
		if err != nil {
			return nil, err
		}
		opts := []anthropicOption.RequestOption{anthropicOption.WithAPIKey(accessToken)}
		if cfg.Endpoint != "" {
			opts = append(opts, anthropicOption.WithBaseURL(cfg.Endpoint))
		}
		client := anthropicSDK.NewClient(opts...)
		return anthropic.New(&client.Messages, anthropic.Options{DefaultModel: cfg.ModelID})

	case config.ProviderAWSBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("registry: load aws config for bedrock: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(runtime, bedrock.Options{DefaultModel: cfg.ModelID})

	case config.ProviderMistral:
		// Mistral's La Plateforme API is Chat-Completions-compatible; reuse
		// the OpenAI adapter against its own base URL.
		return r.buildOpenAICompatible(ctx, cfg)

	case config.ProviderGoogleAIStudio:
		secret, err := r.resolveSecret(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return gemini.New(gemini.Options{DefaultModel: cfg.ModelID, Endpoint: cfg.Endpoint, APIKey: secret.Expose()})

	case config.ProviderGCPVertexGemini:
		tok, err := r.tokenSourceFor(cfg)
		if err != nil {
			return nil, err
		}
		accessToken, err := tok.Token(ctx)
		if err != nil {
			return nil, err
		}
		return gemini.New(gemini.Options{DefaultModel: cfg.ModelID, Endpoint: cfg.Endpoint, APIKey: accessToken})

	case config.ProviderDummy:
		return dummy.New(r.dummy), nil

	default:
		return nil, fmt.Errorf("registry: unsupported provider kind %q", cfg.Kind)
	}
}

func (r *Registry) buildOpenAICompatible(ctx context.Context, cfg config.ProviderConfig) (provider.Adapter, error) {
	secret, err := r.resolveSecret(ctx, cfg)
	if err != nil {
		return nil, err
	}
	apiKey := secret.Expose()

	opts := []openaiOption.RequestOption{openaiOption.WithAPIKey(apiKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, openaiOption.WithBaseURL(cfg.Endpoint))
	}
	client := openaiSDK.NewClient(opts...)
	return openai.New(&client.Chat.Completions, openai.Options{DefaultModel: cfg.ModelID})
}

func (r *Registry) resolveSecret(ctx context.Context, cfg config.ProviderConfig) (credential.Secret, error) {
	secret, err := credential.Resolve(ctx, cfg.Credential, nil)
	if err != nil {
		return credential.Secret{}, fmt.Errorf("registry: resolve credential for provider %q: %w", cfg.Kind, err)
	}
	return secret, nil
}

func (r *Registry) tokenSourceFor(cfg config.ProviderConfig) (*gcpauth.TokenSource, error) {
	key := cfg.ProjectID + "|" + cfg.Region

	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.gcpAuth[key]; ok {
		return ts, nil
	}

	secret, err := credential.Resolve(context.Background(), cfg.Credential, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: resolve gcp service account for provider %q: %w", cfg.Kind, err)
	}
	sa, err := gcpauth.ParseServiceAccount([]byte(secret.Expose()))
	if err != nil {
		return nil, err
	}
	ts := gcpauth.NewTokenSource(sa, r.httpClient)
	r.gcpAuth[key] = ts
	return ts, nil
}
