package bedrock

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
)

// streamer adapts a Bedrock ConverseStream event channel to
// provider.Streamer, draining it on a background goroutine the same way the
// teacher's bedrockStreamer does.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan provider.Chunk

	mu       sync.Mutex
	errSet   bool
	finalErr error

	nameMap map[string]string
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan provider.Chunk, 32), nameMap: nameMap}
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
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
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
	defer func() { _ = s.stream.Close() }()

	proc := &chunkProcessor{emit: s.emit, toolBlocks: make(map[int32]*toolBuffer), nameMap: s.nameMap}
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(s.ctx.Err())
				}
				return
			}
			if err := proc.handle(event); err != nil {
				s.setErr(err)
				return
			}
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
		return "{}"
	}
	s := strings.Join(tb.fragments, "")
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

// chunkProcessor translates Bedrock ConverseStream events into provider.Chunk,
// buffering tool-call argument fragments by content-block index. Reasoning
// and citation events (ContentBlockDeltaMemberReasoningContent/
// ContentBlockDeltaMemberCitation in the teacher's processor) have no
// equivalent in the canonical content model this engine uses and are
// dropped rather than surfaced as an unmapped chunk type.
type chunkProcessor struct {
	emit       func(provider.Chunk) error
	toolBlocks map[int32]*toolBuffer
	nameMap    map[string]string
	stopReason string
}

func (p *chunkProcessor) handle(event any) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int32]*toolBuffer)
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		start := ev.Value.Start
		if start == nil {
			return nil
		}
		if toolUse, ok := start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			id := ""
			if toolUse.Value.ToolUseId != nil {
				id = *toolUse.Value.ToolUseId
			}
			name := ""
			if toolUse.Value.Name != nil {
				name = *toolUse.Value.Name
				if canonical, ok := p.nameMap[name]; ok {
					name = canonical
				}
			}
			p.toolBlocks[ev.Value.ContentBlockIndex] = &toolBuffer{id: id, name: name}
		}
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkText, Text: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb, ok := p.toolBlocks[ev.Value.ContentBlockIndex]
			if !ok || delta.Value.Input == nil {
				return nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return p.emit(provider.Chunk{
				Type:              provider.ChunkToolCallDelta,
				ToolCallDeltaID:   tb.id,
				ToolCallDeltaName: tb.name,
				ToolCallDelta:     fragment,
			})
		default:
			return nil
		}

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		tb, ok := p.toolBlocks[ev.Value.ContentBlockIndex]
		if !ok {
			return nil
		}
		delete(p.toolBlocks, ev.Value.ContentBlockIndex)
		return p.emit(provider.Chunk{
			Type: provider.ChunkToolCall,
			ToolCall: &content.ToolCallPart{
				ID:        tb.id,
				Name:      tb.name,
				Arguments: []byte(tb.joined()),
			},
		})

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = string(ev.Value.StopReason)
		p.toolBlocks = make(map[int32]*toolBuffer)
		return p.emit(provider.Chunk{Type: provider.ChunkStop, FinishReason: provider.MapFinishReason(p.stopReason)})

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		var in, out int
		if t := ev.Value.Usage.InputTokens; t != nil {
			in = int(*t)
		}
		if t := ev.Value.Usage.OutputTokens; t != nil {
			out = int(*t)
		}
		return p.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: provider.Usage{InputTokens: in, OutputTokens: out}})

	default:
		return nil
	}
}
