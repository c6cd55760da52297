package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/provider/anthropic"
)

type fakeMessagesClient struct {
	resp    *sdk.Message
	err     error
	lastReq sdk.MessageNewParams
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastReq = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeMessagesClient) NewStreaming(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func basicRequest() *provider.Request {
	return &provider.Request{
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hello"}}},
		},
	}
}

func TestNew_RequiresClientAndDefaultModel(t *testing.T) {
	_, err := anthropic.New(nil, anthropic.Options{DefaultModel: "claude-3"})
	require.Error(t, err)

	_, err = anthropic.New(&fakeMessagesClient{}, anthropic.Options{})
	require.Error(t, err)
}

func TestInfer_TranslatesTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hi there"},
			},
			StopReason: "end_turn",
			Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 4},
		},
	}
	client, err := anthropic.New(fake, anthropic.Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	resp, err := client.Infer(context.Background(), basicRequest())
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, content.TextPart{Text: "hi there"}, resp.Content[0])
	require.Equal(t, 12, resp.Usage.InputTokens)
	require.Equal(t, 4, resp.Usage.OutputTokens)
	require.Equal(t, provider.FinishStop, resp.FinishReason)
	require.NotEmpty(t, resp.RawRequest)
	require.NotEmpty(t, resp.RawResponse)
}

func TestInfer_RejectsEmptyMessages(t *testing.T) {
	client, err := anthropic.New(&fakeMessagesClient{}, anthropic.Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = client.Infer(context.Background(), &provider.Request{})
	require.Error(t, err)
}

func TestInfer_ToolUseResponseMapsCanonicalName(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call_1", Name: "get_weather", Input: map[string]any{"city": "nyc"}},
			},
			StopReason: "tool_use",
		},
	}
	client, err := anthropic.New(fake, anthropic.Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	req := basicRequest()
	req.Tools = content.ToolConfig{Tools: []content.ToolFunction{{Name: "get_weather", Description: "looks up weather"}}}

	resp, err := client.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	require.Equal(t, provider.FinishToolCall, resp.FinishReason)
}

func TestInfer_JSONModeStrictAppendsPrefill(t *testing.T) {
	fake := &fakeMessagesClient{resp: &sdk.Message{StopReason: "end_turn"}}
	client, err := anthropic.New(fake, anthropic.Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	req := basicRequest()
	req.JSONModeStrict = true

	_, err = client.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fake.lastReq.Messages, 2, "prefill assistant message should be appended")
}
