package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	miraerrors "mira/internal/errors"
	"mira/internal/httpclient"
	"mira/internal/logging"
)

// maxResponseBytes bounds how much of a completion response is read.
// Chat completion payloads are a few KB; anything near this limit is a
// misbehaving endpoint.
const maxResponseBytes = 8 << 20

// OpenAI API compatible client
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// OpenAIConfig configures the transport client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewOpenAIClient constructs a client that speaks the OpenAI-compatible
// chat completions API using the provided configuration.
func NewOpenAIClient(model string, config OpenAIConfig) Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &openaiClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.New("llm-openai"),
	}
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]map[string]string, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	oaiReq := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("POST %s model=%s prompt_bytes=%d", endpoint, c.model, len(req.Prompt))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("HTTP request failed: %v", err)
		return nil, err
	}
	defer httpclient.DrainAndClose(resp.Body)

	respBody, err := httpclient.ReadBounded(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("error response %d: %s", resp.StatusCode, string(respBody))
		return nil, NewHTTPStatusError(resp.StatusCode, resp.Status, string(respBody))
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		errMsg := oaiResp.Error.Message
		if oaiResp.Error.Type != "" {
			errMsg = fmt.Sprintf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
		}
		return nil, NewHTTPStatusError(resp.StatusCode, resp.Status, errMsg)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, miraerrors.NewTransientError(errors.New("no choices in response"),
			"LLM returned an empty response. Please retry.")
	}

	result := &Response{
		Content:    oaiResp.Choices[0].Message.Content,
		TokensUsed: oaiResp.Usage.TotalTokens,
	}

	c.logger.Debug("response finish=%s content_len=%d tokens=%d",
		oaiResp.Choices[0].FinishReason, len(result.Content), result.TokensUsed)

	return result, nil
}
