package store

import (
	"context"
	"errors"
	"time"

	miraerrors "mira/internal/errors"
	"mira/internal/interview"
	"mira/internal/logging"
)

// retryStore decorates a Store with bounded fixed-backoff retries. Lookup
// misses pass through untouched; any other failure is treated as transient
// for the bounded retry, because the caller keeps in-memory state
// authoritative and exhaustion only costs durability, not correctness.
type retryStore struct {
	inner  Store
	config miraerrors.RetryConfig
	logger logging.Logger
}

// WithRetry wraps a store so each operation is tried up to attempts times
// with a fixed backoff between tries.
func WithRetry(inner Store, attempts int, backoff time.Duration, logger logging.Logger) Store {
	if attempts < 1 {
		attempts = 1
	}
	return &retryStore{
		inner:  inner,
		config: miraerrors.FixedRetryConfig(attempts-1, backoff),
		logger: logging.OrNop(logger),
	}
}

func classifyStoreError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return miraerrors.NewTransientError(err, "")
}

func (s *retryStore) GetSession(ctx context.Context, sessionID string) (*interview.Session, error) {
	return miraerrors.RetryWithResultAndLog(ctx, s.config, func(ctx context.Context) (*interview.Session, error) {
		sess, err := s.inner.GetSession(ctx, sessionID)
		return sess, classifyStoreError(err)
	}, s.logger)
}

func (s *retryStore) PutSession(ctx context.Context, session *interview.Session) error {
	return miraerrors.RetryWithLog(ctx, s.config, func(ctx context.Context) error {
		return classifyStoreError(s.inner.PutSession(ctx, session))
	}, s.logger)
}

func (s *retryStore) GetModuleState(ctx context.Context, sessionID, moduleID string) (*interview.ModuleState, error) {
	return miraerrors.RetryWithResultAndLog(ctx, s.config, func(ctx context.Context) (*interview.ModuleState, error) {
		state, err := s.inner.GetModuleState(ctx, sessionID, moduleID)
		return state, classifyStoreError(err)
	}, s.logger)
}

func (s *retryStore) PutModuleState(ctx context.Context, sessionID, moduleID string, state *interview.ModuleState) error {
	return miraerrors.RetryWithLog(ctx, s.config, func(ctx context.Context) error {
		return classifyStoreError(s.inner.PutModuleState(ctx, sessionID, moduleID, state))
	}, s.logger)
}

func (s *retryStore) GetModuleResult(ctx context.Context, sessionID, moduleID string) (*interview.ModuleResult, error) {
	return miraerrors.RetryWithResultAndLog(ctx, s.config, func(ctx context.Context) (*interview.ModuleResult, error) {
		res, err := s.inner.GetModuleResult(ctx, sessionID, moduleID)
		return res, classifyStoreError(err)
	}, s.logger)
}

func (s *retryStore) PutModuleResult(ctx context.Context, sessionID, moduleID string, result *interview.ModuleResult) error {
	return miraerrors.RetryWithLog(ctx, s.config, func(ctx context.Context) error {
		return classifyStoreError(s.inner.PutModuleResult(ctx, sessionID, moduleID, result))
	}, s.logger)
}

func (s *retryStore) GetAllModuleResults(ctx context.Context, sessionID string) (map[string]*interview.ModuleResult, error) {
	return miraerrors.RetryWithResultAndLog(ctx, s.config, func(ctx context.Context) (map[string]*interview.ModuleResult, error) {
		out, err := s.inner.GetAllModuleResults(ctx, sessionID)
		return out, classifyStoreError(err)
	}, s.logger)
}

func (s *retryStore) AppendConversationTurn(ctx context.Context, sessionID string, turn interview.ConversationTurn) error {
	return miraerrors.RetryWithLog(ctx, s.config, func(ctx context.Context) error {
		return classifyStoreError(s.inner.AppendConversationTurn(ctx, sessionID, turn))
	}, s.logger)
}

func (s *retryStore) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]interview.ConversationTurn, error) {
	return miraerrors.RetryWithResultAndLog(ctx, s.config, func(ctx context.Context) ([]interview.ConversationTurn, error) {
		turns, err := s.inner.GetConversationHistory(ctx, sessionID, limit)
		return turns, classifyStoreError(err)
	}, s.logger)
}
