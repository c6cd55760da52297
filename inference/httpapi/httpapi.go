// Package httpapi exposes the dispatcher over HTTP: a single POST /inference
// endpoint that either returns a buffered JSON response or relays a
// server-sent-events stream, depending on the request's stream flag. It is
// grounded on the pack's go-chi server idiom (digitallysavvy-go-ai's
// examples/chi-server/main.go: chi.NewRouter + stdlib middleware +
// chi/middleware.Logger/Recoverer), generalized with a request-scoped
// timeout middleware matching that example's middleware.Timeout usage.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/dispatch"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/observability"
	"github.com/tensorzero/inference-core/inference/ratelimit"
	"github.com/tensorzero/inference-core/inference/stream"
	"github.com/tensorzero/inference-core/inference/telemetry"
)

// RequestTimeout bounds a single /inference call, matching the pack's
// chi-server example's 60s middleware.Timeout.
const RequestTimeout = 60 * time.Second

// Handler wires a dispatch.Dispatcher to chi routes.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	finalizer  stream.Finalizer
	limiter    *ratelimit.Limiter
	writer     *observability.Writer
}

// New constructs a Handler. finalizer receives every completed stream's
// FinalResult from a detached task (see inference/stream); pass a no-op
// implementation if observability reconciliation isn't wired yet. limiter
// may be nil to skip rate-limit admission entirely. writer may be nil to
// skip persisting observability rows for the buffered path (the streaming
// path persists ModelInference rows through finalizer regardless).
func New(dispatcher *dispatch.Dispatcher, finalizer stream.Finalizer, limiter *ratelimit.Limiter, writer *observability.Writer) *Handler {
	return &Handler{dispatcher: dispatcher, finalizer: finalizer, limiter: limiter, writer: writer}
}

// Router builds the chi.Router serving this Handler's routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Post("/inference", h.handleInference)
	return r
}

// inferenceBody is the wire shape of a POST /inference request body.
type inferenceBody struct {
	FunctionName string            `json:"function_name,omitempty"`
	ModelName    string            `json:"model_name,omitempty"`
	EpisodeID    string            `json:"episode_id,omitempty"`
	VariantName  string            `json:"variant_name,omitempty"`
	Stream       bool              `json:"stream,omitempty"`
	Dryrun       bool              `json:"dryrun,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Input        struct {
		System   json.RawMessage   `json:"system,omitempty"`
		Messages []content.Message `json:"messages"`
	} `json:"input"`
}

func (h *Handler) handleInference(w http.ResponseWriter, r *http.Request) {
	var body inferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ierrors.New(ierrors.KindInvalidRequest, "malformed request body"))
		return
	}

	req := &dispatch.Request{
		FunctionName: body.FunctionName,
		ModelName:    body.ModelName,
		EpisodeID:    body.EpisodeID,
		VariantName:  body.VariantName,
		Stream:       body.Stream,
		Dryrun:       body.Dryrun,
		Tags:         body.Tags,
		Messages:     body.Input.Messages,
	}

	var ticket *ratelimit.Ticket
	if h.limiter != nil {
		t, err := h.limiter.Acquire(r.Context(), ratelimit.RequestTags(req.Tags), 0)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		ticket = t
	}

	if body.Stream {
		h.handleStreamingInference(w, r, req, ticket)
		return
	}

	resp, err := h.dispatcher.Infer(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Return(ticket, int64(resp.Usage.InputTokens+resp.Usage.OutputTokens))
	}
	if h.writer != nil {
		h.writeObservability(r.Context(), req, resp)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inference_id": resp.InferenceID,
		"episode_id":   resp.EpisodeID,
		"variant_name": resp.VariantName,
		"content":      resp.Content,
		"usage":        resp.Usage,
		"finish_reason": resp.FinishReason,
	})
}

// writeObservability persists the buffered path's trailing observability
// rows (spec.md §4.9/§2's C9 step): one ChatInference or JSONInference row
// for the request, plus one ModelInference row per underlying provider call
// the chosen variant made.
func (h *Handler) writeObservability(ctx context.Context, req *dispatch.Request, resp *dispatch.Response) {
	now := time.Now()
	if resp.FunctionKind == config.FunctionJSON {
		h.writer.WriteJSONInference(ctx, observability.JSONInferenceRow{
			InferenceID:  resp.InferenceID,
			EpisodeID:    resp.EpisodeID,
			FunctionName: resp.FunctionName,
			VariantName:  resp.VariantName,
			Input:        req.Messages,
			RawOutput:    resp.RawResponse,
			Tags:         req.Tags,
			Cached:       resp.Cached,
			Timestamp:    now,
		})
	} else {
		h.writer.WriteChatInference(ctx, observability.ChatInferenceRow{
			InferenceID:  resp.InferenceID,
			EpisodeID:    resp.EpisodeID,
			FunctionName: resp.FunctionName,
			VariantName:  resp.VariantName,
			Input:        req.Messages,
			Output:       resp.Content,
			Tags:         req.Tags,
			Cached:       resp.Cached,
			Timestamp:    now,
		})
	}
	for _, mr := range resp.ModelInferenceResults {
		h.writer.WriteModelInference(ctx, observability.ModelInferenceRow{
			InferenceID:  resp.InferenceID,
			ModelName:    mr.ModelName,
			ProviderName: mr.ProviderName,
			Usage:        mr.Usage,
			FinishReason: mr.FinishReason,
			RawRequest:   mr.RawRequest,
			RawResponse:  mr.RawResponse,
			Latency:      resp.Latency,
			Timestamp:    now,
		})
	}
}

func (h *Handler) handleStreamingInference(w http.ResponseWriter, r *http.Request, req *dispatch.Request, ticket *ratelimit.Ticket) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ierrors.New(ierrors.KindInternal, "streaming unsupported by response writer"))
		return
	}

	sresp, err := h.dispatcher.InferStream(r.Context(), req)
	if err != nil {
		if h.limiter != nil {
			h.limiter.Return(ticket, 0)
		}
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	finalizer := h.finalizer
	if h.limiter != nil {
		finalizer = reconcilingFinalizer{limiter: h.limiter, ticket: ticket, next: finalizer}
	}

	events := make(chan stream.Event, 16)
	agg := stream.New(sresp.InferenceID, sresp.EpisodeID, sresp.VariantName, "", finalizer)
	go agg.Relay(r.Context(), sresp.Stream, events)

	enc := json.NewEncoder(w)
	for ev := range events {
		if ev.Err != nil {
			telemetry.Warn(r.Context(), "stream ended with error")
			break
		}
		w.Write([]byte("data: "))
		if err := enc.Encode(ev.Chunk); err != nil {
			break
		}
		w.Write([]byte("\n"))
		flusher.Flush()
	}
	w.Write([]byte("event: done\ndata: {}\n\n"))
	flusher.Flush()
}

// NoopFinalizer discards every completed stream's FinalResult. Useful for
// dryrun-only deployments or tests that don't need observability writes.
type NoopFinalizer struct{}

// Finalize implements stream.Finalizer.
func (NoopFinalizer) Finalize(context.Context, stream.FinalResult) {}

// reconcilingFinalizer returns a streaming request's borrowed rate-limit
// ticket once the stream's actual token usage is known, then delegates to
// next. This is the detached finalization path spec.md §4.8 requires so a
// client disconnect never leaks a borrowed ticket.
type reconcilingFinalizer struct {
	limiter *ratelimit.Limiter
	ticket  *ratelimit.Ticket
	next    stream.Finalizer
}

// Finalize implements stream.Finalizer.
func (f reconcilingFinalizer) Finalize(ctx context.Context, result stream.FinalResult) {
	f.limiter.Return(f.ticket, int64(result.Usage.InputTokens+result.Usage.OutputTokens))
	if f.next != nil {
		f.next.Finalize(ctx, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := ierrors.As(err); ok {
		switch e.Kind {
		case ierrors.KindInvalidRequest, ierrors.KindInvalidInferenceTarget, ierrors.KindUnknownFunction,
			ierrors.KindUnknownVariant, ierrors.KindUnknownModel, ierrors.KindUnknownTool,
			ierrors.KindInferenceClient, ierrors.KindJSONSchemaValidation:
			status = http.StatusBadRequest
		}
	}
	writeError(w, status, err)
}
