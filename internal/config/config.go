package config

import "time"

const (
	DefaultLLMProvider       = "openai"
	DefaultLLMModel          = "gpt-4o-mini"
	DefaultLLMBaseURL        = "https://api.openai.com/v1"
	DefaultTemperature       = 0.1
	DefaultMaxTokens         = 512
	DefaultRequestTimeout    = 15 * time.Second
	DefaultRateLimitPerMin   = 60
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 30 * time.Second
	DefaultLLMRetryAttempts  = 2
	DefaultLLMRetryBackoff   = 500 * time.Millisecond
	DefaultLLMCacheSize      = 256
	DefaultLLMCacheTTL       = 5 * time.Minute
	DefaultSessionDir        = "~/.mira-sessions"
	DefaultStartingModule    = "demographics"
	DefaultStoreRetries      = 2
	DefaultStoreRetryBackoff = 200 * time.Millisecond
)

// LLMConfig configures the shared completion client and its decorators.
type LLMConfig struct {
	Provider           string        `json:"provider" yaml:"provider"`
	Model              string        `json:"model" yaml:"model"`
	APIKey             string        `json:"api_key" yaml:"api_key"`
	BaseURL            string        `json:"base_url" yaml:"base_url"`
	Temperature        float64       `json:"temperature" yaml:"temperature"`
	MaxTokens          int           `json:"max_tokens" yaml:"max_tokens"`
	RequestTimeout     time.Duration `json:"request_timeout" yaml:"request_timeout"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	BreakerThreshold   int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
	RetryAttempts      int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff       time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	CacheSize          int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL           time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// ExtractionConfig carries the confidence thresholds and tunable bonuses of
// the extraction pipeline. The hybrid bonuses are empirically chosen and are
// configuration, not semantics.
type ExtractionConfig struct {
	RuleThreshold         float64       `json:"rule_threshold" yaml:"rule_threshold"`
	LLMPrimaryThreshold   float64       `json:"llm_primary_threshold" yaml:"llm_primary_threshold"`
	LLMFallbackThreshold  float64       `json:"llm_fallback_threshold" yaml:"llm_fallback_threshold"`
	HybridThreshold       float64       `json:"hybrid_threshold" yaml:"hybrid_threshold"`
	HybridRuleAccept      float64       `json:"hybrid_rule_accept" yaml:"hybrid_rule_accept"`
	HybridAgreementBonus  float64       `json:"hybrid_agreement_bonus" yaml:"hybrid_agreement_bonus"`
	HybridDegradedPenalty float64       `json:"hybrid_degraded_penalty" yaml:"hybrid_degraded_penalty"`
	LLMPrimaryTimeout     time.Duration `json:"llm_primary_timeout" yaml:"llm_primary_timeout"`
	LLMFallbackTimeout    time.Duration `json:"llm_fallback_timeout" yaml:"llm_fallback_timeout"`
	LLMFallbackMaxTokens  int           `json:"llm_fallback_max_tokens" yaml:"llm_fallback_max_tokens"`
	FuzzyMatchThreshold   float64       `json:"fuzzy_match_threshold" yaml:"fuzzy_match_threshold"`
	FuzzyRelaxedFloor     float64       `json:"fuzzy_relaxed_floor" yaml:"fuzzy_relaxed_floor"`
	ContextWindowTurns    int           `json:"context_window_turns" yaml:"context_window_turns"`
}

// InterviewConfig controls session flow outside any single component.
type InterviewConfig struct {
	StartingModule       string `json:"starting_module" yaml:"starting_module"`
	ClarificationLimit   int    `json:"clarification_limit" yaml:"clarification_limit"`
	SymptomSnippetLimit  int    `json:"symptom_snippet_limit" yaml:"symptom_snippet_limit"`
	ConversationHistoryN int    `json:"conversation_history_n" yaml:"conversation_history_n"`
}

// PersistenceConfig controls the best-effort store behavior.
type PersistenceConfig struct {
	SessionDir    string        `json:"session_dir" yaml:"session_dir"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// Config captures user-configurable settings for the interview runtime.
type Config struct {
	LLM           LLMConfig         `json:"llm" yaml:"llm"`
	Extraction    ExtractionConfig  `json:"extraction" yaml:"extraction"`
	Interview     InterviewConfig   `json:"interview" yaml:"interview"`
	Persistence   PersistenceConfig `json:"persistence" yaml:"persistence"`
	LogLevel      string            `json:"log_level" yaml:"log_level"`
	LogEchoStderr bool              `json:"log_echo_stderr" yaml:"log_echo_stderr"`
}

// Default returns the baseline configuration before file and env layering.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:           DefaultLLMProvider,
			Model:              DefaultLLMModel,
			BaseURL:            DefaultLLMBaseURL,
			Temperature:        DefaultTemperature,
			MaxTokens:          DefaultMaxTokens,
			RequestTimeout:     DefaultRequestTimeout,
			RateLimitPerMinute: DefaultRateLimitPerMin,
			BreakerThreshold:   DefaultBreakerThreshold,
			BreakerCooldown:    DefaultBreakerCooldown,
			RetryAttempts:      DefaultLLMRetryAttempts,
			RetryBackoff:       DefaultLLMRetryBackoff,
			CacheSize:          DefaultLLMCacheSize,
			CacheTTL:           DefaultLLMCacheTTL,
		},
		Extraction: ExtractionConfig{
			RuleThreshold:         0.85,
			LLMPrimaryThreshold:   0.80,
			LLMFallbackThreshold:  0.70,
			HybridThreshold:       0.75,
			HybridRuleAccept:      0.80,
			HybridAgreementBonus:  0.15,
			HybridDegradedPenalty: 0.20,
			LLMPrimaryTimeout:     12 * time.Second,
			LLMFallbackTimeout:    6 * time.Second,
			LLMFallbackMaxTokens:  150,
			FuzzyMatchThreshold:   0.6,
			FuzzyRelaxedFloor:     0.4,
			ContextWindowTurns:    6,
		},
		Interview: InterviewConfig{
			StartingModule:       DefaultStartingModule,
			ClarificationLimit:   2,
			SymptomSnippetLimit:  10,
			ConversationHistoryN: 50,
		},
		Persistence: PersistenceConfig{
			SessionDir:    DefaultSessionDir,
			RetryAttempts: DefaultStoreRetries,
			RetryBackoff:  DefaultStoreRetryBackoff,
		},
		LogLevel: "info",
	}
}
