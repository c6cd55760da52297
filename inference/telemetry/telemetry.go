// Package telemetry centralizes structured logging and tracing for the
// inference engine on top of goa.design/clue/log and OpenTelemetry, the same
// stack the teacher runtime uses (runtime/agent/telemetry/clue.go). Router
// provider failures and credential fallbacks log at WARN through this
// package so fallbacks stay visible in production without being treated as
// fatal. Failed variants are collected by the dispatcher into
// ierrors.AllVariantsFailed without a WARN entry of their own.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// tracer is the package-wide tracer used for inference spans.
var tracer = otel.Tracer("github.com/tensorzero/inference-core/inference")

// Debug emits a debug-level structured log entry.
func Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	log.Debug(ctx, fielders(msg, attrs)...)
}

// Info emits an info-level structured log entry.
func Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	log.Info(ctx, fielders(msg, attrs)...)
}

// Warn emits a warning-level structured log entry. The router logs each
// failed provider here, and credential resolution logs each fallback, so
// operators can see fallbacks happening without the request failing.
func Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	fs := append([]log.Fielder{log.KV{K: "severity", V: "warning"}}, fielders(msg, attrs)...)
	log.Warn(ctx, fs...)
}

// Error emits an error-level structured log entry carrying err.
func Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	log.Error(ctx, err, fielders(msg, attrs)...)
}

// StartSpan starts a new trace span named name under the inference tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fielders(msg string, attrs []attribute.KeyValue) []log.Fielder {
	fs := make([]log.Fielder, 0, len(attrs)+1)
	fs = append(fs, log.KV{K: "msg", V: msg})
	for _, a := range attrs {
		fs = append(fs, log.KV{K: string(a.Key), V: a.Value.AsInterface()})
	}
	return fs
}
