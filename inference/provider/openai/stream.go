package openai

import (
	"context"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tensorzero/inference-core/inference/provider"
)

// streamer adapts an OpenAI Chat Completions SSE stream to provider.Streamer.
// Chat Completions chunks arrive indexed by choice (always 0 here, single
// completion per request) and identify tool calls by tool_call index rather
// than by a content-block id the way Anthropic does; the streamer remembers
// each index's tool name and relays argument fragments as they arrive.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	raw    *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan provider.Chunk

	mu       sync.Mutex
	errSet   bool
	finalErr error

	toolNames map[int64]string
}

func newStreamer(ctx context.Context, raw *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:       cctx,
		cancel:    cancel,
		raw:       raw,
		chunks:    make(chan provider.Chunk, 32),
		toolNames: make(map[int64]string),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return provider.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.raw != nil {
			_ = s.raw.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.raw.Next() {
			s.setErr(s.raw.Err())
			return
		}
		if err := s.handle(s.raw.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) handle(chunk sdk.ChatCompletionChunk) error {
	if len(chunk.Choices) == 0 {
		if chunk.Usage.TotalTokens > 0 {
			return s.emit(provider.Chunk{
				Type: provider.ChunkUsage,
				Usage: provider.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				},
			})
		}
		return nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := s.emit(provider.Chunk{Type: provider.ChunkText, Text: choice.Delta.Content}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		name := tc.Function.Name
		if name != "" {
			s.toolNames[tc.Index] = name
		} else {
			name = s.toolNames[tc.Index]
		}
		if tc.Function.Arguments == "" && name == "" {
			continue
		}
		if err := s.emit(provider.Chunk{
			Type:              provider.ChunkToolCallDelta,
			ToolCallDeltaID:   tc.ID,
			ToolCallDeltaName: name,
			ToolCallDelta:     tc.Function.Arguments,
		}); err != nil {
			return err
		}
	}

	if choice.FinishReason != "" {
		return s.emit(provider.Chunk{
			Type:         provider.ChunkStop,
			FinishReason: provider.MapFinishReason(choice.FinishReason),
		})
	}
	return nil
}

func (s *streamer) emit(c provider.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}
