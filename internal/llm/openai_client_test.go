package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	miraerrors "mira/internal/errors"
)

type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   *int    `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

func completionBody(content string, tokens int) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q},"finish_reason":"stop"}],`+
		`"usage":{"prompt_tokens":5,"completion_tokens":5,"total_tokens":%d}}`, content, tokens)
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got completionRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("All clear.", 42)))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL})
	resp, err := client.Generate(context.Background(), Request{
		Prompt:       "How have you been sleeping?",
		SystemPrompt: "You extract structured answers.",
		Temperature:  0.1,
		MaxTokens:    128,
	})

	require.NoError(t, err)
	require.Equal(t, "All clear.", resp.Content)
	require.Equal(t, 42, resp.TokensUsed)

	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "How have you been sleeping?", got.Messages[1].Content)
	require.False(t, got.Stream)
	require.NotNil(t, got.MaxTokens)
	require.Equal(t, 128, *got.MaxTokens)
}

func TestOpenAIClientOmitsOptionalFields(t *testing.T) {
	var got completionRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completionBody("ok", 1)))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})

	require.NoError(t, err)
	require.Empty(t, auth, "no API key should mean no Authorization header")
	require.Nil(t, got.MaxTokens, "zero max tokens should be omitted")
	require.Len(t, got.Messages, 1, "no system prompt should mean a lone user message")
}

func TestOpenAIClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})

	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "upstream overloaded")
}

func TestOpenAIClientErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "rate_limit")
	require.Contains(t, err.Error(), "slow down")
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{"total_tokens":0}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})

	require.Error(t, err)
	require.True(t, miraerrors.IsTransient(err), "an empty completion should be retryable")
}

func TestOpenAIClientMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-model", OpenAIConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}
