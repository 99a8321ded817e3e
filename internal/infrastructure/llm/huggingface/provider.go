package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm"
)

const (
	ProviderName   = "huggingface"
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
)

// Provider calls the Hugging Face inference API with one combined prompt.
type Provider struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, model, apiKey string, httpClient *http.Client) *Provider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = llm.NewHTTPClient(0)
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (p *Provider) Name() string { return ProviderName }

type generation struct {
	GeneratedText *string `json:"generated_text"`
}

func (p *Provider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	payload := map[string]any{
		"inputs": req.Prompt(),
		"parameters": map[string]any{
			"return_full_text": false,
		},
		"options": map[string]any{
			"wait_for_model": true,
		},
	}
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var raw json.RawMessage
	if err := llm.PostJSON(ctx, p.httpClient, ProviderName, "inference", p.baseURL+"/"+p.model, headers, payload, &raw); err != nil {
		return "", err
	}
	return generatedText(raw), nil
}

// generatedText pulls generated_text out of the usual response shapes and
// otherwise returns the body unchanged.
func generatedText(raw json.RawMessage) string {
	var list []generation
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item.GeneratedText == nil {
				return string(raw)
			}
			parts = append(parts, *item.GeneratedText)
		}
		return strings.Join(parts, "\n")
	}
	var single generation
	if err := json.Unmarshal(raw, &single); err == nil && single.GeneratedText != nil {
		return *single.GeneratedText
	}
	return string(raw)
}
