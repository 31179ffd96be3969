// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI-compatible chat completions provider.
package openai

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/llm"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "gpt-4o"

// Provider implements llm.Provider for the OpenAI API and compatible servers.
type Provider struct {
	client openai.Client
	model  string
}

type settings struct {
	model      string
	reqOptions []option.RequestOption
}

// Option configures the Provider.
type Option func(*settings)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL sets a custom base URL (Azure OpenAI, proxies, local servers).
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.reqOptions = append(s.reqOptions, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. Without it the client reads OPENAI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) {
		if apiKey != "" {
			s.reqOptions = append(s.reqOptions, option.WithAPIKey(apiKey))
		}
	}
}

// WithMaxRetries sets the SDK's own retry count. The agent retries transient
// failures itself, so the default is zero.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.reqOptions = append(s.reqOptions, option.WithMaxRetries(n))
	}
}

// New creates a new OpenAI provider.
func New(opts ...Option) *Provider {
	s := settings{
		model:      DefaultModel,
		reqOptions: []option.RequestOption{option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Provider{
		client: openai.NewClient(s.reqOptions...),
		model:  s.model,
	}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	return convertResponse(completion), nil
}

// classifyError attaches an error code to SDK failures at the point they occur.
func classifyError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		detail := strings.TrimSpace(strings.Join([]string{apiErr.Type, apiErr.Code, apiErr.Message}, " "))
		return llm.StatusError("openai", apiErr.StatusCode, detail, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.New(errors.CodeTransient, "openai chat completion failed", err)
}

// convertMessage converts a message to the OpenAI format.
func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleUser:
		return openai.UserMessage(msg.Content)
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if msg.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

// convertTool converts a tool definition to the OpenAI format.
func convertTool(tool llm.Tool) openai.ChatCompletionToolParam {
	paramsJSON, _ := json.Marshal(tool.Function.Parameters)
	var params openai.FunctionParameters
	_ = json.Unmarshal(paramsJSON, &params)

	return openai.ChatCompletionToolParam{
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

// convertResponse converts an OpenAI completion to a ChatResponse.
func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}

	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)
