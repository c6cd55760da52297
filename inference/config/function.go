package config

import "github.com/tensorzero/inference-core/inference/content"

// FunctionKind distinguishes a chat function from a JSON function.
type FunctionKind string

const (
	FunctionChat FunctionKind = "chat"
	FunctionJSON FunctionKind = "json"
)

// Schemas binds the JSON Schemas used to validate template arguments for
// each message role. A nil schema means that role's arguments are
// unvalidated free-form JSON.
type Schemas struct {
	System    any
	User      any
	Assistant any
}

// FunctionConfig is a named API surface: a fixed input/output shape plus the
// variants that can serve it.
type FunctionConfig struct {
	Name    string
	Kind    FunctionKind
	Schemas Schemas

	Variants map[string]VariantConfig

	// Tools/ToolChoice/ParallelToolCalls apply to FunctionChat.
	Tools             content.ToolConfig
	ParallelToolCalls bool

	// OutputSchema applies to FunctionJSON: every Response.Content.Parsed
	// must satisfy it.
	OutputSchema any
}

// VariantKind identifies the polymorphic variant strategy.
type VariantKind string

const (
	VariantChatCompletion VariantKind = "chat_completion"
	VariantBestOfN        VariantKind = "best_of_n"
	VariantMixtureOfN     VariantKind = "mixture_of_n"
	VariantChainOfThought VariantKind = "chain_of_thought"
	VariantDICL           VariantKind = "dicl"
)

// JSONMode controls whether/how strictly a variant enforces JSON-mode
// output for a Json function.
type JSONMode string

const (
	JSONModeOff    JSONMode = "off"
	JSONModeOn     JSONMode = "on"
	JSONModeStrict JSONMode = "strict"
)

// VariantConfig wraps one of the polymorphic variant kinds. Every variant
// carries an optional non-negative Weight; Weight == nil means the variant
// is reachable only by explicit pin (variant_name), never by weighted
// sampling — this mirrors the "pinnable only" semantics in spec.md §3.
type VariantConfig struct {
	Name   string
	Kind   VariantKind
	Weight *float64

	Chat        *ChatCompletionParams
	BestOfN     *BestOfNParams
	MixtureOfN  *MixtureOfNParams
	ChainOfThought *ChainOfThoughtParams
	DICL        *DICLParams
}

// ChatCompletionParams configures the chat-completion variant.
type ChatCompletionParams struct {
	Model              string
	SystemTemplate     string
	UserTemplate       string
	AssistantTemplate  string
	JSONMode           JSONMode
	Temperature        *float32
	TopP               *float32
	MaxTokens          *int
	Seed               *int64
	PresencePenalty    *float32
	FrequencyPenalty   *float32
	StopSequences      []string
	RetryCount         int
}

// ChainOfThoughtParams configures the chain-of-thought variant; it embeds
// the same parameters as chat-completion plus an instruction template used
// to prompt for a leading thought block.
type ChainOfThoughtParams struct {
	ChatCompletionParams
	ThoughtInstruction string
}

// CandidateVariant names a sibling variant referenced by name from within a
// BestOfN/MixtureOfN ensemble. Siblings are resolved by name indirection at
// each invocation (never by holding a pointer to the sibling VariantConfig),
// so cyclic/forward references between variants in the same function are
// never a construction-time problem.
type CandidateVariant struct {
	Name string
}

// BestOfNParams configures the best-of-n variant.
type BestOfNParams struct {
	Candidates       []CandidateVariant
	EvaluatorModel   string
	TimeoutSeconds    float64
}

// MixtureOfNParams configures the mixture-of-n variant.
type MixtureOfNParams struct {
	Candidates     []CandidateVariant
	FuserModel     string
	TimeoutSeconds float64
}

// DICLParams configures the dynamic in-context-learning variant.
type DICLParams struct {
	EmbeddingModel string
	K              int
	Model          string
	JSONMode       JSONMode
}

// DefaultVariantTimeout is the spec.md §5 default per-candidate timeout for
// Best-of-N / Mixture-of-N when TimeoutSeconds is zero.
const DefaultVariantTimeout = 300.0
