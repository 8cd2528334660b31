package store

import (
	"context"
	"fmt"
	"sync"

	"mira/internal/interview"
)

// Memory implements Store with in-process maps. It backs tests and demos
// and serves as the authoritative cache in front of a file store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*interview.Session
	states   map[string]map[string]*interview.ModuleState
	results  map[string]map[string]*interview.ModuleResult
	turns    map[string][]interview.ConversationTurn
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*interview.Session),
		states:   make(map[string]map[string]*interview.ModuleState),
		results:  make(map[string]map[string]*interview.ModuleResult),
		turns:    make(map[string][]interview.ConversationTurn),
	}
}

func (s *Memory) GetSession(_ context.Context, sessionID string) (*interview.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return clone(sess)
}

func (s *Memory) PutSession(_ context.Context, session *interview.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	copied, err := clone(session)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = copied
	return nil
}

func (s *Memory) GetModuleState(_ context.Context, sessionID, moduleID string) (*interview.ModuleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sessionID][moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: state %s/%s", ErrNotFound, sessionID, moduleID)
	}
	return clone(state)
}

func (s *Memory) PutModuleState(_ context.Context, sessionID, moduleID string, state *interview.ModuleState) error {
	if sessionID == "" || moduleID == "" {
		return fmt.Errorf("session and module ids are required")
	}
	copied, err := clone(state)
	if err != nil {
		return fmt.Errorf("store module state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[sessionID] == nil {
		s.states[sessionID] = make(map[string]*interview.ModuleState)
	}
	s.states[sessionID][moduleID] = copied
	return nil
}

func (s *Memory) GetModuleResult(_ context.Context, sessionID, moduleID string) (*interview.ModuleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[sessionID][moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: result %s/%s", ErrNotFound, sessionID, moduleID)
	}
	return clone(res)
}

func (s *Memory) PutModuleResult(_ context.Context, sessionID, moduleID string, result *interview.ModuleResult) error {
	if sessionID == "" || moduleID == "" {
		return fmt.Errorf("session and module ids are required")
	}
	copied, err := clone(result)
	if err != nil {
		return fmt.Errorf("store module result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results[sessionID] == nil {
		s.results[sessionID] = make(map[string]*interview.ModuleResult)
	}
	s.results[sessionID][moduleID] = copied
	return nil
}

func (s *Memory) GetAllModuleResults(_ context.Context, sessionID string) (map[string]*interview.ModuleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*interview.ModuleResult, len(s.results[sessionID]))
	for moduleID, res := range s.results[sessionID] {
		copied, err := clone(res)
		if err != nil {
			return nil, fmt.Errorf("copy module result: %w", err)
		}
		out[moduleID] = copied
	}
	return out, nil
}

func (s *Memory) AppendConversationTurn(_ context.Context, sessionID string, turn interview.ConversationTurn) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

func (s *Memory) GetConversationHistory(_ context.Context, sessionID string, limit int) ([]interview.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]interview.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}
