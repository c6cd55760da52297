// Package anthropic implements provider.Adapter against the Anthropic Claude
// Messages API, translating the canonical content/provider model to and from
// github.com/anthropics/anthropic-sdk-go. It is grounded on the teacher's
// features/model/anthropic package: the same MessagesClient seam over
// *sdk.MessageService, the same Options-with-defaults shape, and the same
// split between a synchronous client.go and a streaming stream.go.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// MessagesClient is the subset of the Anthropic SDK client this adapter
// drives. Satisfied by *sdk.MessageService, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures adapter-wide defaults applied when a Request leaves a
// field unset.
type Options struct {
	// DefaultModel is used when Request.Model is empty.
	DefaultModel string

	// MaxTokens is the completion cap applied when Request.MaxTokens is nil.
	MaxTokens int

	// Temperature is applied when Request.Temperature is nil.
	Temperature float64
}

// Client implements provider.Adapter on top of the Anthropic Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from an already-constructed MessagesClient.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey builds a Client from a raw API key, constructing the
// underlying SDK client internally.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, opts)
}

// Infer implements provider.Adapter.
func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "anthropic: prepare request")
	}
	reqJSON, _ := json.Marshal(params)

	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}

	resp, err := translateResponse(msg, nameMap)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceClient, err, "anthropic: translate response")
	}
	resp.RawRequest = string(reqJSON)
	respJSON, _ := json.Marshal(msg)
	resp.RawResponse = string(respJSON)
	return resp, nil
}

// InferStream implements provider.Adapter.
func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "anthropic: prepare request")
	}
	s := c.msg.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		return nil, translateError(err)
	}
	return newStreamer(ctx, s, nameMap), nil
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	tools, provToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	maxTokens := c.maxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	temp := c.temperature
	if req.Temperature != nil {
		temp = float64(*req.Temperature)
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.StopSequences != nil {
		params.StopSequences = req.StopSequences
	}

	if choice := encodeToolChoice(req.Tools); choice != nil {
		params.ToolChoice = *choice
	}

	// Claude has no native strict-JSON response mode; the common adapter
	// idiom (used for every "message-prefill" provider) is to force the
	// assistant turn to begin with "{" so the model is steered into emitting
	// a JSON object, then validate the completed text against the schema
	// one layer up in the variant engine.
	if req.JSONModeStrict {
		params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock("{")))
	}

	body := paramsToMap(params)
	if body != nil {
		mutated, err := provider.ApplyBodyMutations(body, req.ExtraBody)
		if err != nil {
			return nil, nil, err
		}
		if err := remarshal(mutated, &params); err != nil {
			return nil, nil, err
		}
	}

	return &params, provToCanon, nil
}

func encodeMessages(msgs []content.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case content.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case content.ToolCallPart:
				var args any
				if len(v.Arguments) > 0 {
					if err := json.Unmarshal(v.Arguments, &args); err != nil {
						return nil, fmt.Errorf("anthropic: tool call %q arguments: %w", v.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, args, v.Name))
			case content.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ID, v.Result, v.IsError))
			case content.ImagePart:
				blocks = append(blocks, sdk.NewImageBlockBase64(v.MIMEType, encodeBase64(v.Bytes)))
			case content.ThoughtPart:
				// Thinking blocks must be echoed back with their original
				// signature to be replayed; the canonical model doesn't carry
				// one, so a synthesized thought is dropped from outbound
				// history rather than sent as an invalid block.
			default:
				// UnknownPart/FilePart have no Anthropic content-block
				// equivalent; dropped rather than rejecting the whole request.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case content.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case content.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(cfg content.ToolConfig) ([]sdk.ToolUnionParam, map[string]string, error) {
	defs := cfg.Allowed()
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	nameMap := make(map[string]string, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		if def.Parameters != nil {
			m, ok := def.Parameters.(map[string]any)
			if !ok {
				data, err := json.Marshal(def.Parameters)
				if err != nil {
					return nil, nil, fmt.Errorf("anthropic: tool %q parameters: %w", def.Name, err)
				}
				if err := json.Unmarshal(data, &m); err != nil {
					return nil, nil, fmt.Errorf("anthropic: tool %q parameters: %w", def.Name, err)
				}
			}
			schema.ExtraFields = m
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
		nameMap[def.Name] = def.Name
	}
	return out, nameMap, nil
}

func encodeToolChoice(cfg content.ToolConfig) *sdk.ToolChoiceUnionParam {
	switch cfg.Choice.Mode {
	case content.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}
	case content.ToolChoiceRequired:
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
	case content.ToolChoiceSpecific:
		if cfg.Choice.Name == "" {
			return nil
		}
		tool := sdk.ToolChoiceParamOfTool(cfg.Choice.Name)
		return &tool
	default:
		return nil
	}
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*provider.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &provider.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Content = append(resp.Content, content.TextPart{Text: block.Text})
			}
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			resp.ToolCalls = append(resp.ToolCalls, content.ToolCallPart{
				ID:        block.ID,
				Name:      name,
				Arguments: args,
			})
		}
	}
	resp.Usage = provider.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.FinishReason = provider.MapFinishReason(string(msg.StopReason))
	return resp, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := ierrors.HTTPStatusToKind(apiErr.StatusCode)
		return ierrors.Wrap(kind, err, "anthropic: request failed")
	}
	return ierrors.Wrap(ierrors.KindInferenceClient, err, "anthropic: request failed")
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// paramsToMap/remarshal round-trip MessageNewParams through JSON so
// extra_body path mutations (spec.md §4.4) can splice into the outgoing
// request body the same way for every provider, without each adapter having
// to hand-implement field-path traversal over its own SDK structs.
func paramsToMap(params sdk.MessageNewParams) map[string]any {
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func remarshal(m map[string]any, out *sdk.MessageNewParams) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
