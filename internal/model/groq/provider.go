package groq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/model"
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithProviderBaseURL sets a custom base URL for the API.
func WithProviderBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, WithBaseURL(baseURL))
	}
}

// WithProviderHTTPClient sets a custom HTTP client.
func WithProviderHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, WithHTTPClient(httpClient))
	}
}

// Provider implements model.Provider against the Groq API.
type Provider struct {
	client     *Client
	clientOpts []ClientOption
}

var _ model.Provider = (*Provider)(nil)

// New creates a new Groq provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	p.client = NewClient(apiKey, p.clientOpts...)
	return p
}

// Complete runs one chat completion and converts the result into a
// domain AI message.
func (p *Provider) Complete(ctx context.Context, req *model.CompletionRequest) (*domain.Message, error) {
	apiReq, err := toAPIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("groq returned no choices")
	}
	return toDomainMessage(resp)
}

func toAPIRequest(req *model.CompletionRequest) (*ChatCompletionRequest, error) {
	messages := make([]ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ChatCompletionMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleHuman:
			messages = append(messages, ChatCompletionMessage{
				Role:    "user",
				Content: msg.Content,
				Name:    msg.Name,
			})
		case domain.RoleAI:
			apiMsg := ChatCompletionMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("encoding tool call arguments: %w", err)
				}
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, apiMsg)
		case domain.RoleTool:
			messages = append(messages, ChatCompletionMessage{
				Role:       "tool",
				Content:    msg.Content,
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		default:
			return nil, domain.ErrProtocolViolation(fmt.Sprintf("unknown message role %q", msg.Role))
		}
	}

	apiReq := &ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	for _, ts := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: FunctionTool{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  ts.Parameters,
			},
		})
	}
	if req.JSONResponse {
		apiReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return apiReq, nil
}

func toDomainMessage(resp *ChatCompletionResponse) (*domain.Message, error) {
	choice := resp.Choices[0]
	msg := &domain.Message{
		ID:      uuid.New().String(),
		Role:    domain.RoleAI,
		Content: choice.Message.Content,
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decoding tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		id := tc.ID
		if id == "" {
			id = uuid.New().String()
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return msg, nil
}
