package llm

import (
	"fmt"

	"mira/internal/config"
	miraerrors "mira/internal/errors"
)

// NewClient builds the configured provider client wrapped with the standard
// decorator chain: retry with circuit breaker, rate limiting, then caching.
// Cache hits never consume rate limit slots.
func NewClient(cfg config.LLMConfig) (Client, error) {
	var client Client
	switch cfg.Provider {
	case "openai":
		client = NewOpenAIClient(cfg.Model, OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.RequestTimeout,
		})
	case "mock":
		client = NewMockClient(cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}

	retryConfig := miraerrors.FixedRetryConfig(cfg.RetryAttempts, cfg.RetryBackoff)
	breakerConfig := miraerrors.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerCooldown,
	}
	client = WrapWithRetry(client, retryConfig, breakerConfig)

	client = NewRateLimitClient(client, cfg.RateLimitPerMinute)

	client = NewCacheClient(client, CacheConfig{
		MaxSize: cfg.CacheSize,
		TTL:     cfg.CacheTTL,
	})

	return client, nil
}
