package orchestrator

import (
	"context"
	"fmt"
	"time"

	"mira/internal/interview"
	"mira/internal/interview/criteria"
	"mira/internal/interview/extract"
	"mira/internal/interview/router"
)

// questionRunner walks one question module: extract the answer, update
// criteria, ask for clarification when extraction came up empty, and let the
// router pick what comes next.
type questionRunner struct {
	def  *interview.ModuleDefinition
	deps RunnerDeps
}

func newQuestionRunner(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error) {
	if def == nil {
		return nil, fmt.Errorf("question runner: module definition is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("question runner %s: extraction pipeline is required", def.ID)
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("question runner %s: router is required", def.ID)
	}
	return &questionRunner{def: def, deps: deps}, nil
}

func (r *questionRunner) ID() string { return r.def.ID }

func (r *questionRunner) Definition() *interview.ModuleDefinition { return r.def }

func (r *questionRunner) Enter(ctx context.Context, t *Turn) *StepOutcome {
	// Resuming mid-question re-asks the question on the table.
	if qid := t.State.CurrentQuestion; qid != "" && !t.State.Answered(qid) {
		if q, ok := r.def.Question(qid); ok {
			return &StepOutcome{Message: RenderQuestion(q), QuestionID: q.ID}
		}
	}
	first := r.deps.Router.Next(router.Input{
		Module:         r.def,
		Answered:       t.State.AnsweredSet(),
		CriteriaStatus: t.State.CriteriaStatus,
		Responses:      responsePointers(t.State.Responses),
	})
	if first == nil {
		return r.complete(t, false, "")
	}
	t.State.CurrentQuestion = first.ID
	t.State.UpdatedAt = time.Now()
	return &StepOutcome{Message: RenderQuestion(first), QuestionID: first.ID}
}

func (r *questionRunner) HandleTurn(ctx context.Context, t *Turn) *StepOutcome {
	current, ok := r.def.Question(t.State.CurrentQuestion)
	if !ok {
		// No question on the table: state restored against a changed module
		// bank, or a stray message. Keep the text for the ledger and route.
		r.deps.Ledger.Record(t.Session.ID, r.def.ID, t.Input, nil)
		return r.Enter(ctx, t)
	}

	resp := r.deps.Pipeline.Extract(ctx, extract.Request{
		Question:      current,
		Message:       t.Input,
		Conversation:  t.History,
		Profile:       t.Session.Profile,
		PriorAttempts: t.State.Clarifications[current.ID],
	})
	r.deps.Ledger.Record(t.Session.ID, r.def.ID, t.Input, resp.Symptoms)
	t.Session.Profile.Record(resp.NeedsClarification)
	r.deps.Metrics.IncExtraction(string(resp.Method), extractionOutcome(resp))

	if resp.NeedsClarification || !resp.Answered() {
		attempts := t.State.RecordClarification(current.ID)
		if attempts <= r.deps.Interview.ClarificationLimit {
			r.deps.Metrics.IncClarification(r.def.ID)
			return &StepOutcome{
				Message:    clarificationText(current, attempts),
				QuestionID: current.ID,
			}
		}
		// Clarification budget exhausted: record what we have and move on so
		// one confusing question cannot wedge the interview.
		r.deps.Logger.Warn("module %s question %s unresolved after %d attempts, moving on",
			r.def.ID, current.ID, attempts)
	}

	t.State.RecordAnswer(current.ID, *resp)
	t.State.CriteriaStatus = criteria.Update(t.State.CriteriaStatus, current.ID, resp, r.def)
	t.State.UpdatedAt = time.Now()

	if r.requiredAnswered(t.State) && len(t.State.AnsweredIDs) >= r.def.MinQuestions {
		if stop, reason := criteria.CanStopEarly(t.State.CriteriaStatus, r.def); stop {
			return r.complete(t, true, reason)
		}
	}

	next := r.deps.Router.Next(router.Input{
		Current:        current,
		Processed:      resp,
		Module:         r.def,
		Answered:       t.State.AnsweredSet(),
		CriteriaStatus: t.State.CriteriaStatus,
		Responses:      responsePointers(t.State.Responses),
	})
	if next == nil {
		return r.complete(t, false, "")
	}
	t.State.CurrentQuestion = next.ID
	return &StepOutcome{Message: RenderQuestion(next), QuestionID: next.ID}
}

func (r *questionRunner) complete(t *Turn, earlyStop bool, reason string) *StepOutcome {
	t.State.CurrentQuestion = ""
	return &StepOutcome{
		Done: true,
		Result: &interview.ModuleResult{
			ModuleID:        r.def.ID,
			Responses:       t.State.Responses,
			CriteriaStatus:  t.State.CriteriaStatus,
			Summary:         criteria.Summary(t.State.CriteriaStatus, r.def),
			SymptomCount:    r.deps.Ledger.Count(t.Session.ID),
			EarlyStop:       earlyStop,
			EarlyStopReason: reason,
			CompletedAt:     time.Now(),
		},
	}
}

func (r *questionRunner) requiredAnswered(st *interview.ModuleState) bool {
	for _, qid := range r.def.RequiredIDs() {
		if !st.Answered(qid) {
			return false
		}
	}
	return true
}

func clarificationText(q *interview.Question, attempt int) string {
	if attempt == 1 {
		return fmt.Sprintf("Sorry, I didn't quite catch that. %s", RenderQuestion(q))
	}
	return fmt.Sprintf("Let me try that one once more. %s", RenderQuestion(q))
}

func extractionOutcome(resp *interview.ProcessedResponse) string {
	if resp.NeedsClarification || !resp.Answered() {
		return "clarify"
	}
	return "answered"
}

// responsePointers adapts stored responses for the router, which reads them
// through pointer receivers.
func responsePointers(responses map[string]interview.ProcessedResponse) map[string]*interview.ProcessedResponse {
	out := make(map[string]*interview.ProcessedResponse, len(responses))
	for qid := range responses {
		resp := responses[qid]
		out[qid] = &resp
	}
	return out
}
