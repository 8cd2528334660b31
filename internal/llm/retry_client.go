package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	miraerrors "mira/internal/errors"
	"mira/internal/logging"
)

// retryClient wraps a client with retry logic and a circuit breaker
type retryClient struct {
	underlying     Client
	retryConfig    miraerrors.RetryConfig
	circuitBreaker *miraerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps a client with retry and circuit breaker logic
func NewRetryClient(client Client, retryConfig miraerrors.RetryConfig, circuitBreaker *miraerrors.CircuitBreaker) Client {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.New("llm-retry"),
	}
}

// WrapWithRetry wraps an existing client with retry logic using the provided configuration
func WrapWithRetry(client Client, retryConfig miraerrors.RetryConfig, circuitBreakerConfig miraerrors.CircuitBreakerConfig) Client {
	circuitBreaker := miraerrors.NewCircuitBreaker(
		fmt.Sprintf("llm-%s", client.Model()),
		circuitBreakerConfig,
	)
	return NewRetryClient(client, retryConfig, circuitBreaker)
}

// Generate executes a completion with retry logic
func (c *retryClient) Generate(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	resp, err := miraerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*Response, error) {
		// The circuit breaker protects against cascading failures when the
		// provider is down across many sessions.
		return miraerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*Response, error) {
			response, err := c.underlying.Generate(ctx, req)
			if err != nil {
				return nil, classifyLLMError(err)
			}
			return response, nil
		})
	}, c.logger)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("LLM request failed after retries (took %v): %v", duration, err)
		return nil, err
	}

	if duration > 5*time.Second {
		c.logger.Debug("LLM request succeeded after %v", duration)
	}

	return resp, nil
}

// Model returns the underlying model name
func (c *retryClient) Model() string {
	return c.underlying.Model()
}

// classifyLLMError detects transient errors from the LLM API
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}

	lowerErr := strings.ToLower(err.Error())

	// Rate limit errors (429)
	if strings.Contains(lowerErr, "429") || strings.Contains(lowerErr, "rate limit") {
		return miraerrors.NewTransientError(err,
			"API rate limit reached. Retrying with backoff.")
	}

	// Server errors (500, 502, 503, 504)
	if strings.Contains(lowerErr, "500") || strings.Contains(lowerErr, "internal server error") {
		return miraerrors.NewTransientError(err, "Server error (500). Retrying request.")
	}
	if strings.Contains(lowerErr, "502") || strings.Contains(lowerErr, "bad gateway") {
		return miraerrors.NewTransientError(err, "Bad gateway (502). Retrying request.")
	}
	if strings.Contains(lowerErr, "503") || strings.Contains(lowerErr, "service unavailable") {
		return miraerrors.NewTransientError(err, "Service unavailable (503). Retrying request.")
	}
	if strings.Contains(lowerErr, "504") || strings.Contains(lowerErr, "gateway timeout") {
		return miraerrors.NewTransientError(err, "Gateway timeout (504). Retrying request.")
	}

	// Network errors
	if strings.Contains(lowerErr, "connection refused") {
		return miraerrors.NewTransientError(err, "LLM service is not reachable. Retrying request.")
	}
	if strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded") {
		return miraerrors.NewTransientError(err, "Request timed out. Retrying with backoff.")
	}
	if strings.Contains(lowerErr, "connection reset") || strings.Contains(lowerErr, "broken pipe") {
		return miraerrors.NewTransientError(err, "Connection reset. Retrying request.")
	}

	// Permanent errors
	if strings.Contains(lowerErr, "401") || strings.Contains(lowerErr, "unauthorized") {
		return miraerrors.NewPermanentError(err,
			"Authentication failed. Please check your API key configuration.")
	}
	if strings.Contains(lowerErr, "403") || strings.Contains(lowerErr, "forbidden") {
		return miraerrors.NewPermanentError(err,
			"Permission denied. You don't have access to this model.")
	}
	if strings.Contains(lowerErr, "404") || strings.Contains(lowerErr, "not found") {
		return miraerrors.NewPermanentError(err,
			"Model or endpoint not found. Please verify the model name.")
	}
	if strings.Contains(lowerErr, "400") || strings.Contains(lowerErr, "bad request") {
		return miraerrors.NewPermanentError(err,
			"Invalid request. Please check the parameters.")
	}

	// Default: return as-is (will be classified by IsTransient)
	return err
}

// HTTPStatusError represents an HTTP error with status code
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPStatusError creates an HTTP status error
func NewHTTPStatusError(statusCode int, status, body string) error {
	return &HTTPStatusError{
		StatusCode: statusCode,
		Status:     status,
		Body:       body,
	}
}
