package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
)

// streamer adapts an Anthropic Messages SSE stream to provider.Streamer,
// translating native stream events into provider.Chunk on a buffered
// channel drained by a background goroutine, the same shape as the
// teacher's anthropicStreamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	raw    *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.Chunk

	mu       sync.Mutex
	errSet   bool
	finalErr error

	nameMap map[string]string
}

func newStreamer(ctx context.Context, raw *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:     cctx,
		cancel:  cancel,
		raw:     raw,
		chunks:  make(chan provider.Chunk, 32),
		nameMap: nameMap,
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

	proc := &chunkProcessor{emit: s.emit, toolBlocks: make(map[int64]*toolBuffer), nameMap: s.nameMap}

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
		if err := proc.handle(s.raw.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(c provider.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) joined() string {
	if len(tb.fragments) == 0 {
		return ""
	}
	return strings.Join(tb.fragments, "")
}

// chunkProcessor translates a single Anthropic stream event into zero or
// more provider.Chunk values, buffering tool-call argument fragments by
// content-block index the same way the teacher's processor keys them.
type chunkProcessor struct {
	emit       func(provider.Chunk) error
	toolBlocks map[int64]*toolBuffer
	nameMap    map[string]string
	stopReason string
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int64]*toolBuffer)
		p.stopReason = ""
		return nil

	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canonical, ok := p.nameMap[name]; ok {
				name = canonical
			}
			p.toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: name}
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb, ok := p.toolBlocks[ev.Index]
			if !ok {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(provider.Chunk{
				Type:              provider.ChunkToolCallDelta,
				ToolCallDeltaID:   tb.id,
				ToolCallDeltaName: tb.name,
				ToolCallDelta:     delta.PartialJSON,
			})
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkThought, Thought: delta.Thinking})
		default:
			return nil
		}

	case sdk.ContentBlockStopEvent:
		tb, ok := p.toolBlocks[ev.Index]
		if !ok {
			return nil
		}
		delete(p.toolBlocks, ev.Index)
		raw := tb.joined()
		if strings.TrimSpace(raw) == "" {
			raw = "{}"
		}
		return p.emit(provider.Chunk{
			Type: provider.ChunkToolCall,
			ToolCall: &content.ToolCallPart{
				ID:        tb.id,
				Name:      tb.name,
				Arguments: json.RawMessage(raw),
			},
		})

	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		return p.emit(provider.Chunk{
			Type: provider.ChunkUsage,
			Usage: provider.Usage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
			},
		})

	case sdk.MessageStopEvent:
		p.toolBlocks = make(map[int64]*toolBuffer)
		return p.emit(provider.Chunk{
			Type:         provider.ChunkStop,
			FinishReason: provider.MapFinishReason(p.stopReason),
		})

	default:
		return nil
	}
}
