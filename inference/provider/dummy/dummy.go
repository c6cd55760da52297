// Package dummy provides a deterministic, network-free provider.Adapter used
// for dryrun requests and for exercising the router/dispatcher/variant
// pipeline in tests without a live provider. It is grounded on the
// conditionally compiled DummyProvider referenced from
// original_source/gateway/src/model.rs
// ("#[cfg(any(test, feature = \"e2e_tests\"))] use
// crate::inference::providers::dummy::DummyProvider").
package dummy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// Behavior selects how the dummy provider responds to a call, keyed by
// model id so a single adapter instance can simulate a whole routing table
// (e.g. "dummy::good" succeeds, "dummy::bad" always fails).
type Behavior struct {
	// Text is the canned assistant response text for a successful call.
	Text string

	// Fail, when non-nil, makes every call to this model id return Fail
	// instead of a response.
	Fail error

	// FailKind classifies Fail for callers that don't supply a full
	// *ierrors.Error in Fail.
	FailKind ierrors.Kind
}

// Client is a deterministic provider.Adapter keyed by model id.
type Client struct {
	behaviors map[string]Behavior
}

// New constructs a dummy Client. behaviors maps a model id (the req.Model
// field, e.g. "good", "bad") to its canned Behavior.
func New(behaviors map[string]Behavior) *Client {
	return &Client{behaviors: behaviors}
}

func (c *Client) lookup(model string) (Behavior, error) {
	b, ok := c.behaviors[model]
	if !ok {
		return Behavior{}, ierrors.Wrap(ierrors.KindInferenceServer, ErrNoBehavior, fmt.Sprintf("dummy: model %q", model))
	}
	return b, nil
}

// Infer implements provider.Adapter.
func (c *Client) Infer(_ context.Context, req *provider.Request) (*provider.Response, error) {
	b, err := c.lookup(req.Model)
	if err != nil {
		return nil, err
	}
	if b.Fail != nil {
		if _, ok := ierrors.As(b.Fail); !ok && b.FailKind != "" {
			return nil, ierrors.Wrap(b.FailKind, b.Fail, "dummy: configured failure")
		}
		return nil, b.Fail
	}
	return &provider.Response{
		Content:      []content.Part{content.TextPart{Text: b.Text}},
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: len(b.Text) / 4},
		FinishReason: provider.FinishStop,
		RawRequest:   fmt.Sprintf("{\"model\":%q,\"dummy\":true}", req.Model),
		RawResponse:  fmt.Sprintf("{\"text\":%q}", b.Text),
	}, nil
}

// InferStream implements provider.Adapter by replaying Infer's text as a
// sequence of four-byte chunks.
func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, error) {
	resp, err := c.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	var text string
	if len(resp.Content) > 0 {
		if t, ok := resp.Content[0].(content.TextPart); ok {
			text = t.Text
		}
	}
	return &stream{text: text, usage: resp.Usage}, nil
}

type stream struct {
	text  string
	usage provider.Usage
	pos   int
	done  bool
}

func (s *stream) Recv() (provider.Chunk, error) {
	if s.pos >= len(s.text) {
		if s.done {
			return provider.Chunk{}, io.EOF
		}
		s.done = true
		return provider.Chunk{Type: provider.ChunkStop, FinishReason: provider.FinishStop, Usage: s.usage}, nil
	}
	end := s.pos + 4
	if end > len(s.text) {
		end = len(s.text)
	}
	chunk := provider.Chunk{Type: provider.ChunkText, Text: s.text[s.pos:end]}
	s.pos = end
	return chunk, nil
}

func (s *stream) Close() error { return nil }

// ErrNoBehavior is returned when a dummy model id has no configured Behavior.
var ErrNoBehavior = errors.New("dummy: no behavior configured")
