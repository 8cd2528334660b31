package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"mira/internal/logging"
)

// rateLimitClient throttles outbound requests to stay under the provider's
// per-minute quota. Callers block until a slot frees rather than failing.
type rateLimitClient struct {
	underlying Client
	limiter    *rate.Limiter
	logger     logging.Logger
}

// NewRateLimitClient wraps a client with a requests-per-minute budget.
// A non-positive perMinute disables throttling.
func NewRateLimitClient(client Client, perMinute int) Client {
	if perMinute <= 0 {
		return client
	}
	// Refill continuously at perMinute/60 per second with a full-minute
	// burst, so short spikes pass through and sustained load is smoothed.
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	return &rateLimitClient{
		underlying: client,
		limiter:    limiter,
		logger:     logging.New("llm-ratelimit"),
	}
}

// Generate waits for rate limit capacity, then delegates to the wrapped client.
func (c *rateLimitClient) Generate(ctx context.Context, req Request) (*Response, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		// Context cancelled or deadline exceeded while queued.
		return nil, err
	}
	if waited := time.Since(waitStart); waited > 100*time.Millisecond {
		c.logger.Debug("rate limit delayed request by %v", waited)
	}
	return c.underlying.Generate(ctx, req)
}

// Model returns the underlying model name
func (c *rateLimitClient) Model() string {
	return c.underlying.Model()
}
