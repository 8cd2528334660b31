package interview

import "time"

// SessionState is the top-level lifecycle of one interview session.
type SessionState string

const (
	SessionNotStarted SessionState = "not_started"
	SessionActive     SessionState = "active"
	SessionComplete   SessionState = "complete"
)

// ModuleStatus is the lifecycle of one module within a session.
type ModuleStatus string

const (
	ModulePending    ModuleStatus = "pending"
	ModuleInProgress ModuleStatus = "in_progress"
	ModuleCompleted  ModuleStatus = "completed"
)

// ModuleTimeline records one module's lifecycle within a session.
type ModuleTimeline struct {
	Status      ModuleStatus `json:"status"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
}

// Session is the orchestrator-owned state for one interview. Sessions are
// archived at completion, never deleted.
type Session struct {
	ID            string                    `json:"id"`
	UserID        string                    `json:"user_id"`
	State         SessionState              `json:"state"`
	CurrentModule string                    `json:"current_module,omitempty"`
	ModuleHistory []string                  `json:"module_history,omitempty"`
	Timeline      map[string]ModuleTimeline `json:"timeline,omitempty"`
	SafetyFlag    bool                      `json:"safety_flag,omitempty"`
	Profile       UserProfile               `json:"profile"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// Completed reports whether the session reached its terminal state.
func (s *Session) Completed() bool {
	return s != nil && s.State == SessionComplete
}

// TimelineFor returns the timeline entry for a module, defaulting to pending.
func (s *Session) TimelineFor(moduleID string) ModuleTimeline {
	if s == nil || s.Timeline == nil {
		return ModuleTimeline{Status: ModulePending}
	}
	if t, ok := s.Timeline[moduleID]; ok {
		return t
	}
	return ModuleTimeline{Status: ModulePending}
}

// MarkModule transitions a module's timeline entry and stamps the time.
func (s *Session) MarkModule(moduleID string, status ModuleStatus, at time.Time) {
	if s.Timeline == nil {
		s.Timeline = make(map[string]ModuleTimeline)
	}
	entry := s.Timeline[moduleID]
	entry.Status = status
	switch status {
	case ModuleInProgress:
		if entry.StartedAt.IsZero() {
			entry.StartedAt = at
		}
	case ModuleCompleted:
		entry.CompletedAt = at
	}
	s.Timeline[moduleID] = entry
	s.UpdatedAt = at
}

// ConversationTurn is one transcript entry, either side of the exchange.
type ConversationTurn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Module     string    `json:"module,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModuleState is the mutable in-progress state of one module within a
// session, persisted best-effort between turns.
type ModuleState struct {
	ModuleID        string                       `json:"module_id"`
	CurrentQuestion string                       `json:"current_question,omitempty"`
	AnsweredIDs     []string                     `json:"answered_ids,omitempty"`
	Responses       map[string]ProcessedResponse `json:"responses,omitempty"`
	CriteriaStatus  CriteriaStatus               `json:"criteria_status,omitempty"`
	Clarifications  map[string]int               `json:"clarifications,omitempty"`
	StartedAt       time.Time                    `json:"started_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// NewModuleState initializes empty per-module working state.
func NewModuleState(moduleID string, now time.Time) *ModuleState {
	return &ModuleState{
		ModuleID:       moduleID,
		Responses:      make(map[string]ProcessedResponse),
		CriteriaStatus: make(CriteriaStatus),
		Clarifications: make(map[string]int),
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Answered reports whether a question already has a recorded response.
func (st *ModuleState) Answered(questionID string) bool {
	if st == nil {
		return false
	}
	_, ok := st.Responses[questionID]
	return ok
}

// RecordAnswer stores a processed response and marks its question answered.
func (st *ModuleState) RecordAnswer(questionID string, resp ProcessedResponse) {
	if st.Responses == nil {
		st.Responses = make(map[string]ProcessedResponse)
	}
	if !st.Answered(questionID) {
		st.AnsweredIDs = append(st.AnsweredIDs, questionID)
	}
	st.Responses[questionID] = resp
}

// RecordClarification bumps the clarification count for a question and
// returns the new total.
func (st *ModuleState) RecordClarification(questionID string) int {
	if st.Clarifications == nil {
		st.Clarifications = make(map[string]int)
	}
	st.Clarifications[questionID]++
	return st.Clarifications[questionID]
}

// AnsweredSet returns the answered question ids as a set.
func (st *ModuleState) AnsweredSet() map[string]bool {
	out := make(map[string]bool, len(st.AnsweredIDs))
	for _, id := range st.AnsweredIDs {
		out[id] = true
	}
	return out
}

// ModuleResult is the frozen outcome of one completed module.
type ModuleResult struct {
	ModuleID        string                       `json:"module_id"`
	Responses       map[string]ProcessedResponse `json:"responses,omitempty"`
	CriteriaStatus  CriteriaStatus               `json:"criteria_status,omitempty"`
	Summary         CriteriaSummary              `json:"summary"`
	SymptomCount    int                          `json:"symptom_count,omitempty"`
	EarlyStop       bool                         `json:"early_stop,omitempty"`
	EarlyStopReason string                       `json:"early_stop_reason,omitempty"`
	Narrative       string                       `json:"narrative,omitempty"`
	CompletedAt     time.Time                    `json:"completed_at"`
}
