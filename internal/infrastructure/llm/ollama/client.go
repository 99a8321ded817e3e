package ollama

import (
	"context"
	"net/http"
	"strings"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm"
)

const (
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
)

type Client struct {
	baseURL    string
	genModel   string
	formatJSON bool
	httpClient *http.Client
}

func New(baseURL, genModel string, formatJSON bool, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = llm.NewHTTPClient(0)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		formatJSON: formatJSON,
		httpClient: httpClient,
	}
}

func (c *Client) Name() string { return ProviderName }

// Complete sends the combined prompt to /api/generate without streaming.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": req.Prompt(),
		"stream": false,
	}
	if c.formatJSON {
		reqBody["format"] = "json"
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := llm.PostJSON(ctx, c.httpClient, ProviderName, "generate", c.baseURL+"/api/generate", nil, reqBody, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
