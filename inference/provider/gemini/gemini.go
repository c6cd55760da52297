// Package gemini adapts GCP Vertex Gemini and Google AI Studio Gemini to
// provider.Adapter via their OpenAI Chat Completions-compatible endpoints,
// grounded on original_source/gateway/src/inference/providers/gcp_vertex.rs
// for the JWT-signing semantics a Vertex deployment needs (RS256,
// client_email/audience claims, handled by inference/provider/gcpauth) and
// on inference/provider/openai for the wire format both Gemini surfaces
// actually speak. It exists as its own package, rather than folding Gemini
// into the generic OpenAI-compatible registry path alongside Azure/
// Fireworks/Together, because Gemini's two deployment surfaces (Vertex vs.
// AI Studio) need different credential handling even though the request
// body is identical; a thin wrapper keeps that distinction named instead of
// implicit in a registry switch statement.
package gemini

import (
	openaiSDK "github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"

	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/provider/openai"
)

// Options configures a Gemini adapter.
type Options struct {
	DefaultModel string

	// Endpoint is the Gemini OpenAI-compatibility base URL: Vertex AI's
	// publishers/google/models endpoint for ProviderGCPVertexGemini, or
	// Google AI Studio's /v1beta/openai endpoint for ProviderGoogleAIStudio.
	Endpoint string

	// APIKey is either a static Google AI Studio API key or a short-lived
	// GCP Vertex bearer token minted by gcpauth.TokenSource, depending on
	// which surface Endpoint points at.
	APIKey string
}

// New builds a provider.Adapter for a Gemini-family model by reusing
// provider/openai against Gemini's OpenAI-compatibility endpoint.
func New(opts Options) (provider.Adapter, error) {
	sdkOpts := []openaiOption.RequestOption{openaiOption.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		sdkOpts = append(sdkOpts, openaiOption.WithBaseURL(opts.Endpoint))
	}
	client := openaiSDK.NewClient(sdkOpts...)
	return openai.New(&client.Chat.Completions, openai.Options{DefaultModel: opts.DefaultModel})
}
