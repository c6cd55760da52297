// Package openai implements provider.Adapter against the OpenAI Chat
// Completions API using github.com/openai/openai-go, the official SDK the
// teacher's go.mod already depends on. It replaces the teacher's
// features/model/openai adapter, which targets the third-party
// sashabaranov/go-openai client instead; the shape (a ChatClient seam, an
// Options-with-defaults struct, Complete/Stream split into client.go/
// stream.go) is kept, generalized to the wider Request surface (tools,
// JSON mode, extra_body/extra_headers) this engine's provider contract
// requires.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// ChatClient is the subset of the OpenAI SDK client this adapter drives.
// Satisfied by *sdk.ChatCompletionService, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures adapter-wide defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements provider.Adapter on top of OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from an already-constructed ChatClient.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey builds a Client from a raw API key, constructing the
// underlying SDK client internally.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Chat.Completions, opts)
}

// Infer implements provider.Adapter.
func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "openai: prepare request")
	}
	reqJSON, _ := json.Marshal(params)

	completion, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}

	resp, err := translateResponse(completion)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceClient, err, "openai: translate response")
	}
	resp.RawRequest = string(reqJSON)
	respJSON, _ := json.Marshal(completion)
	resp.RawResponse = string(respJSON)
	return resp, nil
}

// InferStream implements provider.Adapter.
func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "openai: prepare request")
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}
	s := c.chat.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		return nil, translateError(err)
	}
	return newStreamer(ctx, s), nil
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	msgs, err := encodeMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}

	maxTokens := c.maxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}

	temp := c.temperature
	if req.Temperature != nil {
		temp = float64(*req.Temperature)
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(float64(*req.TopP))
	}
	if req.Seed != nil {
		params.Seed = sdk.Int(*req.Seed)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = sdk.Float(float64(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = sdk.Float(float64(*req.FrequencyPenalty))
	}
	if len(req.StopSequences) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}

	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if choice := encodeToolChoice(req.Tools); choice != nil {
		params.ToolChoice = *choice
	}

	if req.JSONModeStrict {
		if req.OutputSchema != nil {
			schema, err := encodeJSONSchema(req.OutputSchema)
			if err != nil {
				return nil, err
			}
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{JSONSchema: schema},
			}
		} else {
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	body := paramsToMap(params)
	if body != nil {
		mutated, err := provider.ApplyBodyMutations(body, req.ExtraBody)
		if err != nil {
			return nil, err
		}
		if err := remarshal(mutated, &params); err != nil {
			return nil, err
		}
	}

	return &params, nil
}

func encodeMessages(system string, msgs []content.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case content.RoleUser:
			out = append(out, sdk.UserMessage(encodeUserParts(m.Parts)))
		case content.RoleAssistant:
			msg, err := encodeAssistantMessage(m.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
			for _, toolResult := range toolResults(m.Parts) {
				out = append(out, sdk.ToolMessage(toolResult.Result, toolResult.ID))
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeUserParts(parts []content.Part) string {
	var text string
	for _, p := range parts {
		if v, ok := p.(content.TextPart); ok {
			text += v.Text
		}
	}
	return text
}

func encodeAssistantMessage(parts []content.Part) (sdk.ChatCompletionMessageParamUnion, error) {
	var text string
	var calls []sdk.ChatCompletionMessageToolCallParam
	for _, p := range parts {
		switch v := p.(type) {
		case content.TextPart:
			text += v.Text
		case content.ToolCallPart:
			calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
				ID: v.ID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Name,
					Arguments: string(v.Arguments),
				},
			})
		}
	}
	msg := sdk.AssistantMessage(text)
	if msg.OfAssistant != nil {
		msg.OfAssistant.ToolCalls = calls
	}
	return msg, nil
}

func toolResults(parts []content.Part) []content.ToolResultPart {
	var out []content.ToolResultPart
	for _, p := range parts {
		if v, ok := p.(content.ToolResultPart); ok {
			out = append(out, v)
		}
	}
	return out
}

func encodeTools(cfg content.ToolConfig) []sdk.ChatCompletionToolParam {
	defs := cfg.Allowed()
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  toParameters(def.Parameters),
				Strict:      sdk.Bool(def.Strict),
			},
		})
	}
	return out
}

func toParameters(schema any) shared.FunctionParameters {
	m, ok := schema.(map[string]any)
	if ok {
		return shared.FunctionParameters(m)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if json.Unmarshal(data, &out) != nil {
		return nil
	}
	return shared.FunctionParameters(out)
}

func encodeToolChoice(cfg content.ToolConfig) *sdk.ChatCompletionToolChoiceOptionUnionParam {
	switch cfg.Choice.Mode {
	case content.ToolChoiceNone:
		return &sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}
	case content.ToolChoiceRequired:
		return &sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}
	case content.ToolChoiceSpecific:
		if cfg.Choice.Name == "" {
			return nil
		}
		return &sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: cfg.Choice.Name},
			},
		}
	default:
		return nil
	}
}

func encodeJSONSchema(schema any) (sdk.ResponseFormatJSONSchemaJSONSchemaParam, error) {
	m, ok := schema.(map[string]any)
	if !ok {
		data, err := json.Marshal(schema)
		if err != nil {
			return sdk.ResponseFormatJSONSchemaJSONSchemaParam{}, err
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return sdk.ResponseFormatJSONSchemaJSONSchemaParam{}, err
		}
	}
	return sdk.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   "output",
		Schema: m,
		Strict: sdk.Bool(true),
	}, nil
}

func translateResponse(completion *sdk.ChatCompletion) (*provider.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := completion.Choices[0]
	resp := &provider.Response{}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, content.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, content.ToolCallPart{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	resp.Usage = provider.Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	resp.FinishReason = provider.MapFinishReason(string(choice.FinishReason))
	return resp, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return ierrors.Wrap(ierrors.HTTPStatusToKind(apiErr.StatusCode), err, "openai: request failed")
	}
	return ierrors.Wrap(ierrors.KindInferenceClient, err, "openai: request failed")
}

func paramsToMap(params sdk.ChatCompletionNewParams) map[string]any {
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m
}

func remarshal(m map[string]any, out *sdk.ChatCompletionNewParams) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
