// Package observability implements the Observability Writer (C9): trailing,
// optionally-asynchronous writes of ChatInference/JsonInference/
// ModelInference rows to an OLAP store. It is grounded on the teacher's
// registry package for the write-then-optionally-wait shape
// (registry/service.go's validatePayloadJSONAgainstSchema runs synchronously
// in the request path the same way a synchronous write here would), with
// the driver itself (github.com/ClickHouse/clickhouse-go/v2) named directly
// since nothing in the retrieved pack touches ClickHouse or any other OLAP
// store — see DESIGN.md for that justification.
package observability

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/telemetry"
)

// ChatInferenceRow is one row in the chat_inference table: the per-request
// summary for a Chat function call.
type ChatInferenceRow struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	VariantName  string
	Input        []content.Message
	Output       []content.Part
	Tags         map[string]string
	Cached       bool
	Timestamp    time.Time
}

// JSONInferenceRow is one row in the json_inference table: the per-request
// summary for a Json function call.
type JSONInferenceRow struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	VariantName  string
	Input        []content.Message
	RawOutput    string
	ParsedOutput any
	Tags         map[string]string
	Cached       bool
	Timestamp    time.Time
}

// ModelInferenceRow is one row per provider call — a single ChatInference
// may produce several on fallback, one per attempted provider.
type ModelInferenceRow struct {
	InferenceID  uuid.UUID
	ModelName    string
	ProviderName string
	Usage        provider.Usage
	FinishReason provider.FinishReason
	RawRequest   string
	RawResponse  string
	Latency      time.Duration
	Timestamp    time.Time
}

// Writer persists observability rows to ClickHouse. Its zero value is not
// usable; construct with New.
type Writer struct {
	conn        clickhouse.Conn
	asyncWrites bool
}

// Options configures a Writer.
type Options struct {
	Conn clickhouse.Conn

	// AsyncWrites controls whether WriteChatInference/WriteJSONInference/
	// WriteModelInference block the caller until the insert completes, per
	// spec.md §4.9. The caller is expected to invoke the writer from the
	// Streaming Aggregator's detached finalization task, so "async" here
	// means "don't make the caller's own caller wait," not "fire and never
	// check for errors" — errors are always logged regardless of this flag.
	AsyncWrites bool
}

// New constructs a Writer.
func New(opts Options) *Writer {
	return &Writer{conn: opts.Conn, asyncWrites: opts.AsyncWrites}
}

func (w *Writer) run(ctx context.Context, label string, fn func(context.Context) error) {
	do := func() {
		if err := fn(ctx); err != nil {
			telemetry.Error(ctx, err, "observability write failed", attribute.String("table", label))
		}
	}
	if w.asyncWrites {
		go do()
		return
	}
	do()
}

// WriteChatInference persists a ChatInferenceRow.
func (w *Writer) WriteChatInference(ctx context.Context, row ChatInferenceRow) {
	w.run(ctx, "chat_inference", func(ctx context.Context) error {
		return w.conn.Exec(ctx,
			`INSERT INTO chat_inference
			 (inference_id, episode_id, function_name, variant_name, input, output, tags, cached, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.InferenceID, row.EpisodeID, row.FunctionName, row.VariantName,
			mustPartsJSON(messagesToParts(row.Input)), mustPartsJSON(row.Output),
			row.Tags, row.Cached, row.Timestamp,
		)
	})
}

// WriteJSONInference persists a JSONInferenceRow.
func (w *Writer) WriteJSONInference(ctx context.Context, row JSONInferenceRow) {
	w.run(ctx, "json_inference", func(ctx context.Context) error {
		return w.conn.Exec(ctx,
			`INSERT INTO json_inference
			 (inference_id, episode_id, function_name, variant_name, input, raw_output, tags, cached, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.InferenceID, row.EpisodeID, row.FunctionName, row.VariantName,
			mustPartsJSON(messagesToParts(row.Input)), row.RawOutput, row.Tags, row.Cached, row.Timestamp,
		)
	})
}

// WriteModelInference persists a ModelInferenceRow.
func (w *Writer) WriteModelInference(ctx context.Context, row ModelInferenceRow) {
	w.run(ctx, "model_inference", func(ctx context.Context) error {
		return w.conn.Exec(ctx,
			`INSERT INTO model_inference
			 (inference_id, model_name, provider_name, input_tokens, output_tokens, finish_reason, raw_request, raw_response, latency_ms, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.InferenceID, row.ModelName, row.ProviderName,
			row.Usage.InputTokens, row.Usage.OutputTokens, row.FinishReason,
			row.RawRequest, row.RawResponse, row.Latency.Milliseconds(), row.Timestamp,
		)
	})
}

func messagesToParts(messages []content.Message) []content.Part {
	var out []content.Part
	for _, m := range messages {
		out = append(out, m.Parts...)
	}
	return out
}

func mustPartsJSON(parts []content.Part) string {
	b, err := content.PartsToJSON(parts)
	if err != nil {
		return "[]"
	}
	return string(b)
}
