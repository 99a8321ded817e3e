package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"

	chatCompletionsPath = "/chat/completions"
)

// Provider talks to any OpenAI-compatible chat completions endpoint.
type Provider struct {
	client *goopenai.Client
	model  string
}

// New accepts either the API base URL or the full chat completions URL.
func New(completionURL, apiKey, model string, httpClient *http.Client) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	if base := BaseURL(completionURL); base != "" {
		cfg.BaseURL = base
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &Provider{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func BaseURL(completionURL string) string {
	base := strings.TrimRight(strings.TrimSpace(completionURL), "/")
	return strings.TrimSuffix(base, chatCompletionsPath)
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	messages := req.Messages()
	chat := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := goopenai.ChatMessageRoleSystem
		if msg.Role == domain.RoleUser {
			role = goopenai.ChatMessageRoleUser
		}
		chat = append(chat, goopenai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    p.model,
		Messages: chat,
	})
	if err != nil {
		return "", statusError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// statusError maps go-openai failures onto llm.HTTPStatusError so retry
// classification sees the HTTP status.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &llm.HTTPStatusError{
			Provider:   ProviderName,
			Operation:  "chat",
			StatusCode: apiErr.HTTPStatusCode,
			Status:     fmt.Sprintf("%d %s", apiErr.HTTPStatusCode, http.StatusText(apiErr.HTTPStatusCode)),
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &llm.HTTPStatusError{
			Provider:   ProviderName,
			Operation:  "chat",
			StatusCode: reqErr.HTTPStatusCode,
			Status:     fmt.Sprintf("%d %s", reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode)),
			Err:        err,
		}
	}
	return fmt.Errorf("openai chat request: %w", err)
}
