package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvLookup abstracts environment access so tests can inject values.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
}

// Option customizes Load behavior.
type Option func(*loadOptions)

// WithEnvLookup overrides environment access.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader overrides file access.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// Load constructs the configuration by merging defaults, an optional YAML
// file, and environment overrides, in that order. A missing file is not an
// error; a malformed one is.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path, options); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg, options.envLookup)

	// Without an API key the transport client cannot authenticate; fall back
	// to the mock provider so the interview still runs on rule-based
	// extraction.
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "mock" {
		cfg.LLM.Provider = "mock"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config with optional fields and seconds-based durations
// so a partial YAML file only overrides what it names.
type fileConfig struct {
	LLM struct {
		Provider              *string  `yaml:"provider"`
		Model                 *string  `yaml:"model"`
		APIKey                *string  `yaml:"api_key"`
		BaseURL               *string  `yaml:"base_url"`
		Temperature           *float64 `yaml:"temperature"`
		MaxTokens             *int     `yaml:"max_tokens"`
		RequestTimeoutSeconds *int     `yaml:"request_timeout_seconds"`
		RateLimitPerMinute    *int     `yaml:"rate_limit_per_minute"`
		BreakerThreshold      *int     `yaml:"breaker_threshold"`
		BreakerCooldownSecs   *int     `yaml:"breaker_cooldown_seconds"`
		RetryAttempts         *int     `yaml:"retry_attempts"`
		RetryBackoffMillis    *int     `yaml:"retry_backoff_ms"`
		CacheSize             *int     `yaml:"cache_size"`
		CacheTTLSeconds       *int     `yaml:"cache_ttl_seconds"`
	} `yaml:"llm"`
	Extraction struct {
		RuleThreshold         *float64 `yaml:"rule_threshold"`
		LLMPrimaryThreshold   *float64 `yaml:"llm_primary_threshold"`
		LLMFallbackThreshold  *float64 `yaml:"llm_fallback_threshold"`
		HybridThreshold       *float64 `yaml:"hybrid_threshold"`
		HybridRuleAccept      *float64 `yaml:"hybrid_rule_accept"`
		HybridAgreementBonus  *float64 `yaml:"hybrid_agreement_bonus"`
		HybridDegradedPenalty *float64 `yaml:"hybrid_degraded_penalty"`
		FuzzyMatchThreshold   *float64 `yaml:"fuzzy_match_threshold"`
		ContextWindowTurns    *int     `yaml:"context_window_turns"`
	} `yaml:"extraction"`
	Interview struct {
		StartingModule      *string `yaml:"starting_module"`
		ClarificationLimit  *int    `yaml:"clarification_limit"`
		SymptomSnippetLimit *int    `yaml:"symptom_snippet_limit"`
	} `yaml:"interview"`
	Persistence struct {
		SessionDir         *string `yaml:"session_dir"`
		RetryAttempts      *int    `yaml:"retry_attempts"`
		RetryBackoffMillis *int    `yaml:"retry_backoff_ms"`
	} `yaml:"persistence"`
	LogLevel      *string `yaml:"log_level"`
	LogEchoStderr *bool   `yaml:"log_echo_stderr"`
}

func applyFile(cfg *Config, path string, options loadOptions) error {
	data, err := options.readFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.LLM.Provider, fc.LLM.Provider)
	setString(&cfg.LLM.Model, fc.LLM.Model)
	setString(&cfg.LLM.APIKey, fc.LLM.APIKey)
	setString(&cfg.LLM.BaseURL, fc.LLM.BaseURL)
	setFloat(&cfg.LLM.Temperature, fc.LLM.Temperature)
	setInt(&cfg.LLM.MaxTokens, fc.LLM.MaxTokens)
	setSeconds(&cfg.LLM.RequestTimeout, fc.LLM.RequestTimeoutSeconds)
	setInt(&cfg.LLM.RateLimitPerMinute, fc.LLM.RateLimitPerMinute)
	setInt(&cfg.LLM.BreakerThreshold, fc.LLM.BreakerThreshold)
	setSeconds(&cfg.LLM.BreakerCooldown, fc.LLM.BreakerCooldownSecs)
	setInt(&cfg.LLM.RetryAttempts, fc.LLM.RetryAttempts)
	setMillis(&cfg.LLM.RetryBackoff, fc.LLM.RetryBackoffMillis)
	setInt(&cfg.LLM.CacheSize, fc.LLM.CacheSize)
	setSeconds(&cfg.LLM.CacheTTL, fc.LLM.CacheTTLSeconds)

	setFloat(&cfg.Extraction.RuleThreshold, fc.Extraction.RuleThreshold)
	setFloat(&cfg.Extraction.LLMPrimaryThreshold, fc.Extraction.LLMPrimaryThreshold)
	setFloat(&cfg.Extraction.LLMFallbackThreshold, fc.Extraction.LLMFallbackThreshold)
	setFloat(&cfg.Extraction.HybridThreshold, fc.Extraction.HybridThreshold)
	setFloat(&cfg.Extraction.HybridRuleAccept, fc.Extraction.HybridRuleAccept)
	setFloat(&cfg.Extraction.HybridAgreementBonus, fc.Extraction.HybridAgreementBonus)
	setFloat(&cfg.Extraction.HybridDegradedPenalty, fc.Extraction.HybridDegradedPenalty)
	setFloat(&cfg.Extraction.FuzzyMatchThreshold, fc.Extraction.FuzzyMatchThreshold)
	setInt(&cfg.Extraction.ContextWindowTurns, fc.Extraction.ContextWindowTurns)

	setString(&cfg.Interview.StartingModule, fc.Interview.StartingModule)
	setInt(&cfg.Interview.ClarificationLimit, fc.Interview.ClarificationLimit)
	setInt(&cfg.Interview.SymptomSnippetLimit, fc.Interview.SymptomSnippetLimit)

	setString(&cfg.Persistence.SessionDir, fc.Persistence.SessionDir)
	setInt(&cfg.Persistence.RetryAttempts, fc.Persistence.RetryAttempts)
	setMillis(&cfg.Persistence.RetryBackoff, fc.Persistence.RetryBackoffMillis)

	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.LogEchoStderr != nil {
		cfg.LogEchoStderr = *fc.LogEchoStderr
	}
	return nil
}

func applyEnv(cfg *Config, lookup EnvLookup) {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	envString(lookup, "MIRA_LLM_PROVIDER", &cfg.LLM.Provider)
	envString(lookup, "MIRA_LLM_MODEL", &cfg.LLM.Model)
	envString(lookup, "MIRA_BASE_URL", &cfg.LLM.BaseURL)
	envString(lookup, "MIRA_SESSION_DIR", &cfg.Persistence.SessionDir)
	envString(lookup, "MIRA_STARTING_MODULE", &cfg.Interview.StartingModule)
	envString(lookup, "MIRA_LOG_LEVEL", &cfg.LogLevel)

	if value, ok := lookup("MIRA_API_KEY"); ok && value != "" {
		cfg.LLM.APIKey = value
	} else if value, ok := lookup("OPENAI_API_KEY"); ok && value != "" {
		cfg.LLM.APIKey = value
	}

	if value, ok := lookup("MIRA_MAX_TOKENS"); ok {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			cfg.LLM.MaxTokens = parsed
		}
	}
	if value, ok := lookup("MIRA_TEMPERATURE"); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed >= 0 {
			cfg.LLM.Temperature = parsed
		}
	}
	if value, ok := lookup("MIRA_LOG_ECHO_STDERR"); ok {
		cfg.LogEchoStderr = value == "1" || strings.EqualFold(value, "true")
	}
}

func envString(lookup EnvLookup, key string, dst *string) {
	if value, ok := lookup(key); ok && value != "" {
		*dst = value
	}
}

// Validate rejects configurations the runtime cannot operate under.
// Malformed static config is a startup fault, not something to degrade around.
func (c Config) Validate() error {
	if c.LLM.Provider != "openai" && c.LLM.Provider != "mock" {
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.RateLimitPerMinute <= 0 {
		return fmt.Errorf("llm rate_limit_per_minute must be positive, got %d", c.LLM.RateLimitPerMinute)
	}
	for name, v := range map[string]float64{
		"rule_threshold":         c.Extraction.RuleThreshold,
		"llm_primary_threshold":  c.Extraction.LLMPrimaryThreshold,
		"llm_fallback_threshold": c.Extraction.LLMFallbackThreshold,
		"hybrid_threshold":       c.Extraction.HybridThreshold,
		"fuzzy_match_threshold":  c.Extraction.FuzzyMatchThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("extraction %s must be within [0,1], got %v", name, v)
		}
	}
	if c.Interview.StartingModule == "" {
		return fmt.Errorf("interview starting_module must be set")
	}
	if c.Interview.SymptomSnippetLimit <= 0 {
		return fmt.Errorf("interview symptom_snippet_limit must be positive")
	}
	return nil
}

// SessionDirResolved expands a leading ~ in the configured session directory.
func (c Config) SessionDirResolved() string {
	return expandHome(c.Persistence.SessionDir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *int) {
	if src != nil && *src > 0 {
		*dst = time.Duration(*src) * time.Second
	}
}

func setMillis(dst *time.Duration, src *int) {
	if src != nil && *src > 0 {
		*dst = time.Duration(*src) * time.Millisecond
	}
}
