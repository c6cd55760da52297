package bedrock_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/provider/bedrock"
)

type fakeRuntimeClient struct {
	converseOut *bedrockruntime.ConverseOutput
	converseErr error
	lastInput   *bedrockruntime.ConverseInput
}

func (f *fakeRuntimeClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastInput = params
	if f.converseErr != nil {
		return nil, f.converseErr
	}
	return f.converseOut, nil
}

func (f *fakeRuntimeClient) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, errors.New("not implemented in fake")
}

func basicRequest() *provider.Request {
	return &provider.Request{
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hello"}}},
		},
	}
}

func TestNew_RequiresRuntimeAndDefaultModel(t *testing.T) {
	_, err := bedrock.New(nil, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.Error(t, err)

	_, err = bedrock.New(&fakeRuntimeClient{}, bedrock.Options{})
	require.Error(t, err)
}

func TestInfer_TranslatesTextResponse(t *testing.T) {
	fake := &fakeRuntimeClient{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role:    brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hi there"}},
				},
			},
			Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(7), OutputTokens: aws.Int32(3)},
			StopReason: brtypes.StopReasonEndTurn,
		},
	}
	client, err := bedrock.New(fake, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	resp, err := client.Infer(context.Background(), basicRequest())
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, content.TextPart{Text: "hi there"}, resp.Content[0])
	require.Equal(t, 7, resp.Usage.InputTokens)
	require.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestInfer_RejectsEmptyMessages(t *testing.T) {
	client, err := bedrock.New(&fakeRuntimeClient{}, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.Infer(context.Background(), &provider.Request{})
	require.Error(t, err)
}

func TestInfer_SanitizesToolNameOnRequestAndReversesOnResponse(t *testing.T) {
	fake := &fakeRuntimeClient{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String("call_1"),
						Name:      aws.String("get_weather_info"),
					}}},
				},
			},
			StopReason: brtypes.StopReasonToolUse,
		},
	}
	client, err := bedrock.New(fake, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	req := basicRequest()
	req.Tools = content.ToolConfig{Tools: []content.ToolFunction{{Name: "get_weather_info", Description: "looks up weather"}}}

	resp, err := client.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "get_weather_info", resp.ToolCalls[0].Name)

	require.NotNil(t, fake.lastInput.ToolConfig)
	spec, ok := fake.lastInput.ToolConfig.Tools[0].(*brtypes.ToolMemberToolSpec)
	require.True(t, ok)
	require.True(t, strings.ContainsAny(*spec.Value.Name, "abcdefghijklmnopqrstuvwxyz_-0123456789"))
}

