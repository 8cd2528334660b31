package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"mira/internal/logging"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures the completion cache behaviour.
type CacheConfig struct {
	// MaxSize is the maximum number of entries in the LRU cache.
	MaxSize int
	// TTL is how long a cached completion remains valid.
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for completion caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: defaultCacheMaxSize,
		TTL:     defaultCacheTTL,
	}
}

// cacheEntry holds a cached completion along with the timestamp it was stored.
type cacheEntry struct {
	content    string
	tokensUsed int
	storedAt   time.Time
}

// cacheClient caches completions keyed by the full request (model, prompts,
// sampling parameters). Identical requests issued concurrently are collapsed
// into a single upstream call.
type cacheClient struct {
	underlying Client
	cache      *lru.Cache[string, cacheEntry]
	ttl        time.Duration
	group      singleflight.Group
	logger     logging.Logger
}

// NewCacheClient wraps a client with an LRU completion cache.
// If config values are zero they fall back to DefaultCacheConfig defaults.
func NewCacheClient(client Client, config CacheConfig) Client {
	if client == nil {
		return nil
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](config.MaxSize)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		return client
	}
	return &cacheClient{
		underlying: client,
		cache:      cache,
		ttl:        config.TTL,
		logger:     logging.New("llm-cache"),
	}
}

// Generate returns a cached completion when available, otherwise delegates.
func (c *cacheClient) Generate(ctx context.Context, req Request) (*Response, error) {
	key := c.cacheKey(req)

	if entry, ok := c.cache.Get(key); ok {
		if time.Since(entry.storedAt) < c.ttl {
			c.logger.Debug("cache hit for request %s", key[:12])
			return &Response{
				Content:    entry.content,
				TokensUsed: entry.tokensUsed,
			}, nil
		}
		// Expired so evict to keep the LRU bookkeeping clean.
		c.cache.Remove(key)
	}

	// Collapse concurrent identical requests into one upstream call.
	value, err, shared := c.group.Do(key, func() (any, error) {
		resp, err := c.underlying.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, cacheEntry{
			content:    resp.Content,
			tokensUsed: resp.TokensUsed,
			storedAt:   time.Now(),
		})
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := value.(*Response)
	if shared {
		// Copy so concurrent callers do not alias the same response.
		cp := *resp
		return &cp, nil
	}
	return resp, nil
}

// Model returns the underlying model name
func (c *cacheClient) Model() string {
	return c.underlying.Model()
}

// cacheKey produces a deterministic key from everything that affects the
// completion output.
func (c *cacheClient) cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%.4f\x00%d",
		c.underlying.Model(), req.SystemPrompt, req.Prompt, req.Temperature, req.MaxTokens)
	return hex.EncodeToString(h.Sum(nil))
}
