// Package config defines the loaded (post-parse) configuration objects the
// inference engine consumes: model/provider routing tables, function and
// variant definitions, and rate-limit rules. Parsing raw TOML into these
// structures is an external collaborator (out of scope, per spec.md §1);
// this package only models the validated, in-memory result of that load.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tensorzero/inference-core/inference/credential"
)

// ProviderKind identifies which adapter implementation a ProviderConfig
// resolves to.
type ProviderKind string

const (
	ProviderOpenAI           ProviderKind = "openai"
	ProviderAzure            ProviderKind = "azure"
	ProviderAnthropic        ProviderKind = "anthropic"
	ProviderAWSBedrock       ProviderKind = "aws_bedrock"
	ProviderGCPVertexAnthropic ProviderKind = "gcp_vertex_anthropic"
	ProviderGCPVertexGemini  ProviderKind = "gcp_vertex_gemini"
	ProviderGoogleAIStudio   ProviderKind = "google_ai_studio_gemini"
	ProviderMistral          ProviderKind = "mistral"
	ProviderFireworks        ProviderKind = "fireworks"
	ProviderTogether         ProviderKind = "together"
	ProviderVLLM             ProviderKind = "vllm"
	ProviderXAI              ProviderKind = "xai"
	ProviderDummy            ProviderKind = "dummy"
)

// shorthandPrefixes maps the reserved "provider::model" shorthand prefix to
// a ProviderKind, per spec.md §6.
var shorthandPrefixes = map[string]ProviderKind{
	"anthropic":               ProviderAnthropic,
	"aws_bedrock":             ProviderAWSBedrock,
	"azure":                   ProviderAzure,
	"fireworks":               ProviderFireworks,
	"gcp_vertex_anthropic":    ProviderGCPVertexAnthropic,
	"gcp_vertex_gemini":       ProviderGCPVertexGemini,
	"google_ai_studio_gemini": ProviderGoogleAIStudio,
	"mistral":                 ProviderMistral,
	"openai":                  ProviderOpenAI,
	"together":                ProviderTogether,
	"vllm":                    ProviderVLLM,
	"xai":                     ProviderXAI,
	"dummy":                   ProviderDummy,
}

// ProviderConfig is a tagged variant over the supported model providers.
// Exactly the fields relevant to Kind are populated.
type ProviderConfig struct {
	Kind ProviderKind

	// ModelID is the provider-native model identifier (e.g.
	// "gpt-4o", "claude-sonnet-4-5", a Bedrock deployment/inference
	// profile id).
	ModelID string

	// Endpoint overrides the provider's default API base URL, used for
	// vLLM/Azure/dynamic-endpoint deployments.
	Endpoint string

	// Credential locates the provider's API credential.
	Credential credential.Locator

	// Region is the AWS/GCP region for Bedrock and Vertex providers.
	Region string

	// ProjectID is the GCP project for Vertex providers.
	ProjectID string
}

// ModelConfig names an ordered list of providers to try for a model, in
// fallback order, plus the configuration for each named provider.
//
// Invariant: every name in Routing must have a matching entry in Providers;
// this is validated by Validate, grounded directly on
// original_source/gateway/src/model.rs's ModelConfig (routing Vec<String> +
// providers HashMap<String, ProviderConfig>).
type ModelConfig struct {
	Routing   []string
	Providers map[string]ProviderConfig
}

// Validate checks the routing/providers invariant.
func (m ModelConfig) Validate() error {
	for _, name := range m.Routing {
		if _, ok := m.Providers[name]; !ok {
			return fmt.Errorf("config: model routing references unknown provider %q", name)
		}
	}
	return nil
}

// ParseShorthand materializes a single-provider ModelConfig from a
// "provider::model" shorthand string (e.g. "openai::gpt-4o"), per spec.md
// §6. The returned provider name is always "shorthand".
func ParseShorthand(s string) (ModelConfig, error) {
	idx := strings.Index(s, "::")
	if idx < 0 {
		return ModelConfig{}, fmt.Errorf("config: %q is not a valid model shorthand (expected provider::model)", s)
	}
	prefix, modelID := s[:idx], s[idx+2:]
	kind, ok := shorthandPrefixes[prefix]
	if !ok {
		return ModelConfig{}, fmt.Errorf("config: %q is not a reserved provider prefix", prefix)
	}
	const providerName = "shorthand"
	return ModelConfig{
		Routing: []string{providerName},
		Providers: map[string]ProviderConfig{
			providerName: {Kind: kind, ModelID: modelID},
		},
	}, nil
}

// ModelTable holds the function-independent model catalogue, including
// shorthand models materialized lazily on first use. Insertion is guarded by
// a per-key lock so two concurrent requests for the same unseen shorthand
// never race to publish a half-initialized entry; reads of already-published
// entries take only the table's shared read lock, matching the
// single-writer/many-reader discipline spec.md §5 calls for.
type ModelTable struct {
	mu     sync.RWMutex
	models map[string]ModelConfig

	// keyLocks serializes concurrent first-use materialization of the same
	// shorthand name without blocking lookups of unrelated names.
	keyLocks sync.Map // name -> *sync.Mutex
}

// NewModelTable constructs a ModelTable seeded with the statically
// configured models.
func NewModelTable(seed map[string]ModelConfig) *ModelTable {
	models := make(map[string]ModelConfig, len(seed))
	for k, v := range seed {
		models[k] = v
	}
	return &ModelTable{models: models}
}

// Lookup returns the ModelConfig for name, materializing it from shorthand
// on first use if name isn't already configured and parses as a shorthand
// string.
func (t *ModelTable) Lookup(name string) (ModelConfig, error) {
	t.mu.RLock()
	m, ok := t.models[name]
	t.mu.RUnlock()
	if ok {
		return m, nil
	}

	lockIface, _ := t.keyLocks.LoadOrStore(name, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have finished materializing name
	// while we waited for the lock.
	t.mu.RLock()
	m, ok = t.models[name]
	t.mu.RUnlock()
	if ok {
		return m, nil
	}

	parsed, err := ParseShorthand(name)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("config: unknown model %q: %w", name, err)
	}
	if err := parsed.Validate(); err != nil {
		return ModelConfig{}, err
	}

	t.mu.Lock()
	t.models[name] = parsed
	t.mu.Unlock()

	return parsed, nil
}
