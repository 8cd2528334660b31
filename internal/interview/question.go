// Package interview defines the domain model shared by the interview engine:
// questions and module definitions, processed responses, criteria state, the
// symptom ledger record, and per-session bookkeeping.
package interview

import (
	"fmt"
	"sort"
)

// ResponseType enumerates how a question expects to be answered.
type ResponseType string

const (
	ResponseYesNo          ResponseType = "yes_no"
	ResponseMultipleChoice ResponseType = "multiple_choice"
	ResponseScale          ResponseType = "scale"
	ResponseFreeText       ResponseType = "free_text"
)

// Priority orders questions within a module. Lower is more urgent.
type Priority int

const (
	PrioritySafety Priority = 1
	PriorityHigh   Priority = 2
	PriorityMedium Priority = 3
	PriorityLow    Priority = 4
)

// Question is a single prompt within a module. Definitions are immutable
// once loaded; the same Question value backs every concurrent session.
type Question struct {
	ID          string            `json:"id" yaml:"id"`
	Sequence    int               `json:"sequence" yaml:"sequence"`
	Text        string            `json:"text" yaml:"text"`
	Type        ResponseType      `json:"type" yaml:"type"`
	Options     []string          `json:"options,omitempty" yaml:"options,omitempty"`
	ScaleMin    int               `json:"scale_min,omitempty" yaml:"scale_min,omitempty"`
	ScaleMax    int               `json:"scale_max,omitempty" yaml:"scale_max,omitempty"`
	Priority    Priority          `json:"priority" yaml:"priority"`
	SkipLogic   map[string]string `json:"skip_logic,omitempty" yaml:"skip_logic,omitempty"`
	FollowUps   []string          `json:"follow_ups,omitempty" yaml:"follow_ups,omitempty"`
	CriterionID string            `json:"criterion_id,omitempty" yaml:"criterion_id,omitempty"`
	Required    bool              `json:"required" yaml:"required"`
}

// CriteriaType selects the early-stop policy for a module's criteria.
type CriteriaType string

const (
	CriteriaSymptomCount CriteriaType = "symptom_count"
	CriteriaSequential   CriteriaType = "sequential"
	CriteriaHybrid       CriteriaType = "hybrid"
	CriteriaCluster      CriteriaType = "cluster"
)

// CriteriaSpec describes how a module's diagnostic criteria resolve to a
// screening outcome.
type CriteriaSpec struct {
	Type                CriteriaType `json:"type" yaml:"type"`
	MinimumRequired     int          `json:"minimum_required" yaml:"minimum_required"`
	DurationRequirement string       `json:"duration_requirement,omitempty" yaml:"duration_requirement,omitempty"`
	DiagnosticThreshold float64      `json:"diagnostic_threshold,omitempty" yaml:"diagnostic_threshold,omitempty"`
}

// ModuleGroup buckets modules for sequencing. Analysis only unlocks once
// every diagnostic module finished; planning only after analysis.
type ModuleGroup string

const (
	GroupIntake     ModuleGroup = "intake"
	GroupSafety     ModuleGroup = "safety"
	GroupDiagnostic ModuleGroup = "diagnostic"
	GroupAnalysis   ModuleGroup = "analysis"
	GroupPlanning   ModuleGroup = "planning"
)

// ModuleDefinition is the immutable description of one assessment stage,
// loaded at startup and shared read-only across sessions.
type ModuleDefinition struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Group        ModuleGroup  `json:"group" yaml:"group"`
	Questions    []Question   `json:"questions,omitempty" yaml:"questions,omitempty"`
	MinQuestions int          `json:"min_questions,omitempty" yaml:"min_questions,omitempty"`
	Criteria     CriteriaSpec `json:"criteria,omitempty" yaml:"criteria,omitempty"`
}

// Question returns the question with the given id, if present.
func (m *ModuleDefinition) Question(id string) (*Question, bool) {
	for i := range m.Questions {
		if m.Questions[i].ID == id {
			return &m.Questions[i], true
		}
	}
	return nil, false
}

// SortedQuestions returns the module's questions ordered by sequence number.
func (m *ModuleDefinition) SortedQuestions() []Question {
	out := make([]Question, len(m.Questions))
	copy(out, m.Questions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// RequiredIDs returns the ids of all required questions in sequence order.
func (m *ModuleDefinition) RequiredIDs() []string {
	var ids []string
	for _, q := range m.SortedQuestions() {
		if q.Required {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// Validate checks the definition's structural invariants: non-empty id,
// question ids and sequence numbers unique within the module, multiple-choice
// questions carrying options, skip-logic and follow-up targets resolving to
// real questions.
func (m *ModuleDefinition) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("module id is required")
	}

	ids := make(map[string]bool, len(m.Questions))
	seqs := make(map[int]bool, len(m.Questions))
	for _, q := range m.Questions {
		if q.ID == "" {
			return fmt.Errorf("module %s: question with empty id", m.ID)
		}
		if ids[q.ID] {
			return fmt.Errorf("module %s: duplicate question id %s", m.ID, q.ID)
		}
		ids[q.ID] = true
		if seqs[q.Sequence] {
			return fmt.Errorf("module %s: duplicate sequence %d (question %s)", m.ID, q.Sequence, q.ID)
		}
		seqs[q.Sequence] = true

		switch q.Type {
		case ResponseYesNo, ResponseFreeText:
		case ResponseMultipleChoice:
			if len(q.Options) < 2 {
				return fmt.Errorf("module %s: question %s needs at least 2 options", m.ID, q.ID)
			}
		case ResponseScale:
			if q.ScaleMax <= q.ScaleMin {
				return fmt.Errorf("module %s: question %s has empty scale range", m.ID, q.ID)
			}
		default:
			return fmt.Errorf("module %s: question %s has unknown type %q", m.ID, q.ID, q.Type)
		}
	}

	for _, q := range m.Questions {
		for pattern, target := range q.SkipLogic {
			if !ids[target] {
				return fmt.Errorf("module %s: question %s skip-logic %q targets unknown question %s",
					m.ID, q.ID, pattern, target)
			}
		}
		for _, target := range q.FollowUps {
			if !ids[target] {
				return fmt.Errorf("module %s: question %s follow-up targets unknown question %s",
					m.ID, q.ID, target)
			}
		}
	}

	return nil
}
