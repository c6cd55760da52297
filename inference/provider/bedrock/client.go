// Package bedrock implements provider.Adapter against the AWS Bedrock
// Converse API. It is grounded on the teacher's features/model/bedrock
// package: the RuntimeClient seam over *bedrockruntime.Client, tool-name
// sanitization via a canonical<->provider name map, and the
// smithy.APIError/ResponseError rate-limit detection in isRateLimited,
// generalized from goa-ai's agent-runtime request shape to this engine's
// provider.Request/Response contract.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// calls, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures adapter-wide defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements provider.Adapter on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a Client from an already-constructed RuntimeClient.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	provToCan  map[string]string
}

// Infer implements provider.Adapter.
func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "bedrock: prepare request")
	}
	input := c.buildConverseInput(parts, req)
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	resp, err := translateResponse(output, parts.provToCan)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceClient, err, "bedrock: translate response")
	}
	reqJSON, _ := json.Marshal(input)
	resp.RawRequest = string(reqJSON)
	respJSON, _ := json.Marshal(output)
	resp.RawResponse = string(respJSON)
	return resp, nil
}

// InferStream implements provider.Adapter.
func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInvalidRequest, err, "bedrock: prepare request")
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, ierrors.New(ierrors.KindInferenceClient, "bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream, parts.provToCan), nil
}

func (c *Client) prepareRequest(req *provider.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if req.Tools.Choice.Mode == content.ToolChoiceNone {
		// Bedrock has no "none" tool choice: send the request with no tools.
		toolConfig = nil
	}

	messages, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}

	var system []brtypes.SystemContentBlock
	if req.System != "" {
		system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}

	return &requestParts{
		modelID:    modelID,
		messages:   messages,
		system:     system,
		toolConfig: toolConfig,
		provToCan:  sanToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req *provider.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(req *provider.Request) *brtypes.InferenceConfiguration {
	maxTokens := c.maxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	temp := c.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	if maxTokens <= 0 && temp <= 0 && len(req.StopSequences) == 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	return cfg
}

func encodeMessages(msgs []content.Message, nameMap map[string]string) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		var role brtypes.ConversationRole
		switch m.Role {
		case content.RoleUser:
			role = brtypes.ConversationRoleUser
		case content.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case content.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case content.ToolCallPart:
				sanitized := nameMap[v.Name]
				if sanitized == "" {
					sanitized = v.Name
				}
				var args any
				if len(v.Arguments) > 0 {
					_ = json.Unmarshal(v.Arguments, &args)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(sanitized),
					Input:     document.NewLazyDocument(args),
				}})
			case content.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(v.ID),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Result},
					},
				}})
			case content.ImagePart:
				blocks = append(blocks, &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
					Format: imageFormat(v.MIMEType),
					Source: &brtypes.ImageSourceMemberBytes{Value: v.Bytes},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, nil
}

func imageFormat(mimeType string) brtypes.ImageFormat {
	switch {
	case strings.Contains(mimeType, "png"):
		return brtypes.ImageFormatPng
	case strings.Contains(mimeType, "gif"):
		return brtypes.ImageFormatGif
	case strings.Contains(mimeType, "webp"):
		return brtypes.ImageFormatWebp
	default:
		return brtypes.ImageFormatJpeg
	}
}

func encodeTools(cfg content.ToolConfig) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	defs := cfg.Allowed()
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name

		var schemaDoc document.Interface
		if def.Parameters != nil {
			schemaDoc = document.NewLazyDocument(def.Parameters)
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
		}})
	}

	result := &brtypes.ToolConfiguration{Tools: toolList}
	switch cfg.Choice.Mode {
	case content.ToolChoiceRequired:
		result.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case content.ToolChoiceSpecific:
		if sanitized, ok := canonToSan[cfg.Choice.Name]; ok {
			result.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
		}
	}
	return result, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool identifier to characters Bedrock
// accepts ([a-zA-Z0-9_-]+, <=64 chars), replacing every disallowed rune with
// '_'.
func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	s := string(out)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*provider.Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	resp := &provider.Response{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					resp.Content = append(resp.Content, content.TextPart{Text: v.Value})
				}
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
					if canonical, ok := nameMap[name]; ok {
						name = canonical
					}
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				args := decodeDocument(v.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, content.ToolCallPart{ID: id, Name: name, Arguments: args})
			}
		}
	}
	if u := output.Usage; u != nil {
		resp.Usage = provider.Usage{InputTokens: int(aws.ToInt32(u.InputTokens)), OutputTokens: int(aws.ToInt32(u.OutputTokens))}
	}
	resp.FinishReason = provider.MapFinishReason(string(output.StopReason))
	return resp, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var raw any
	if err := doc.UnmarshalSmithyDocument(&raw); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func translateError(err error) error {
	if isRateLimited(err) {
		e := ierrors.Wrap(ierrors.KindInferenceServer, err, "bedrock: request rate limited")
		e.Retryable = true
		return e
	}
	return ierrors.Wrap(ierrors.KindInferenceClient, err, "bedrock: converse failed")
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}
