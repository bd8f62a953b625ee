package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Base URLs for the OpenAI-compatible providers recognized in settings.
// lmstudio's default assumes a local server on its standard port.
const (
	LMStudioBaseURL   = "http://localhost:1234/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	GeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// OpenAICompatible drives any chat-completions endpoint.
type OpenAICompatible struct {
	name   string
	client openai.Client
	model  string
}

// NewOpenAICompatible builds a provider for a named endpoint. name is the
// settings key (lmstudio, openrouter, gemini); baseURL may be empty for
// the provider's default.
func NewOpenAICompatible(name, baseURL, apiKey, model string) (*OpenAICompatible, error) {
	if model == "" {
		return nil, errors.New("model is required")
	}
	if baseURL == "" {
		switch name {
		case "lmstudio":
			baseURL = LMStudioBaseURL
		case "openrouter":
			baseURL = OpenRouterBaseURL
		case "gemini":
			baseURL = GeminiBaseURL
		}
	}

	opts := []option.RequestOption{}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &OpenAICompatible{
		name:   name,
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name implements Provider.
func (p *OpenAICompatible) Name() string { return p.name }

// Chat implements Provider. The endpoint is stateless: the full history is
// posted every turn and sessionID is ignored.
func (p *OpenAICompatible) Chat(ctx context.Context, _ string, messages []Message) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, WrapProviderError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", p.name)
	}

	return &Response{Content: resp.Choices[0].Message.Content}, nil
}
