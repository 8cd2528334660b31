// Package store persists interview sessions: session records, per-module
// working state, frozen module results, and the conversation transcript.
// Persistence is best-effort; callers keep their in-memory state
// authoritative and continue when a store call fails.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"mira/internal/interview"
)

// ErrNotFound reports that a requested record does not exist. Lookups wrap
// it, so callers test with errors.Is.
var ErrNotFound = errors.New("record not found")

// Store abstracts session persistence. Module-scoped records are keyed by
// (sessionID, moduleID); everything else by sessionID alone.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*interview.Session, error)
	PutSession(ctx context.Context, session *interview.Session) error

	GetModuleState(ctx context.Context, sessionID, moduleID string) (*interview.ModuleState, error)
	PutModuleState(ctx context.Context, sessionID, moduleID string, state *interview.ModuleState) error

	GetModuleResult(ctx context.Context, sessionID, moduleID string) (*interview.ModuleResult, error)
	PutModuleResult(ctx context.Context, sessionID, moduleID string, result *interview.ModuleResult) error
	GetAllModuleResults(ctx context.Context, sessionID string) (map[string]*interview.ModuleResult, error)

	AppendConversationTurn(ctx context.Context, sessionID string, turn interview.ConversationTurn) error
	// GetConversationHistory returns the most recent limit turns in
	// chronological order; limit <= 0 returns everything.
	GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]interview.ConversationTurn, error)
}

// clone deep-copies a record through its JSON form, the same shape it would
// take through the file store. Stored and returned records never share
// memory with the caller.
func clone[T any](src *T) (*T, error) {
	if src == nil {
		return nil, nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
