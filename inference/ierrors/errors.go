// Package ierrors defines the inference engine's error taxonomy: a tagged
// sum type covering every failure category in the dispatch pipeline, plus
// the two aggregate errors (ModelProvidersExhausted, AllVariantsFailed) that
// the router and dispatcher use to surface accumulated per-attempt failures
// without being fatal on the first one.
package ierrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error into one of the categories from the core error
// taxonomy. Callers switch on Kind to decide retry/UX behavior; they should
// not pattern-match on Error() strings.
type Kind string

const (
	KindConfig                 Kind = "config"
	KindInvalidRequest          Kind = "invalid_request"
	KindInvalidInferenceTarget  Kind = "invalid_inference_target"
	KindUnknownFunction         Kind = "unknown_function"
	KindUnknownVariant          Kind = "unknown_variant"
	KindUnknownModel            Kind = "unknown_model"
	KindUnknownTool             Kind = "unknown_tool"
	KindProviderNotFound        Kind = "provider_not_found"
	KindTemplateRender          Kind = "template_render"
	KindJSONSchemaValidation    Kind = "json_schema_validation"
	KindAPIKeyMissing           Kind = "api_key_missing"
	KindDynamicEndpointNotFound Kind = "dynamic_endpoint_not_found"
	KindInvalidDynamicEndpoint  Kind = "invalid_dynamic_endpoint"
	KindInferenceClient         Kind = "inference_client"
	KindInferenceServer         Kind = "inference_server"
	KindInferenceTimeout        Kind = "inference_timeout"
	KindModelProvidersExhausted Kind = "model_providers_exhausted"
	KindAllVariantsFailed       Kind = "all_variants_failed"
	KindObjectStoreWrite        Kind = "object_store_write"
	KindClickHouseDeserialize   Kind = "clickhouse_deserialization"
	KindInternal                Kind = "internal"
)

// Error is the engine-wide error type. It carries enough structure for
// callers to classify the failure (Kind), decide whether a retry might help
// (Retryable), and inspect the raw provider exchange for debugging
// (RawRequest/RawResponse) without parsing a message string.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool

	// RawRequest/RawResponse carry the raw wire bodies exchanged with a
	// provider when the error originated from a provider call, for
	// observability and debugging. Never populated for config/validation
	// errors.
	RawRequest  string
	RawResponse string

	cause error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind that preserves cause in its
// error chain.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any, so errors.Is/errors.As see
// through engine errors to the originating SDK/network error.
func (e *Error) Unwrap() error { return e.cause }

// WithRaw attaches the raw provider request/response bodies to e for
// observability, returning e for chaining.
func (e *Error) WithRaw(rawRequest, rawResponse string) *Error {
	e.RawRequest = rawRequest
	e.RawResponse = rawResponse
	return e
}

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ModelProvidersExhausted reports that every provider in a model's routing
// list failed. provider_errors is keyed by provider name.
type ModelProvidersExhausted struct {
	ProviderErrors map[string]error
}

func (e *ModelProvidersExhausted) Error() string {
	var b strings.Builder
	b.WriteString("all providers exhausted: ")
	first := true
	for name, err := range e.ProviderErrors {
		if !first {
			b.WriteString("; ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %v", name, err)
	}
	return b.String()
}

// AllVariantsFailed reports that every candidate variant for a function
// failed. Errors is keyed by variant name.
type AllVariantsFailed struct {
	Errors map[string]error
}

func (e *AllVariantsFailed) Error() string {
	var b strings.Builder
	b.WriteString("all variants failed: ")
	first := true
	for name, err := range e.Errors {
		if !first {
			b.WriteString("; ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %v", name, err)
	}
	return b.String()
}

// IsRetryable reports whether err (or a wrapped engine Error within it)
// indicates the caller may retry without changing the request.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// HTTPStatusToKind translates a provider HTTP status code into the engine's
// client/server error classification: 400/401/403/413/429 are caller-caused
// (InferenceClient); any other non-2xx is treated as a server failure
// (InferenceServer).
func HTTPStatusToKind(status int) Kind {
	switch status {
	case 400, 401, 403, 413, 429:
		return KindInferenceClient
	default:
		return KindInferenceServer
	}
}
