package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"mira/internal/config"
	"mira/internal/interview"
	"mira/internal/interview/extract"
	"mira/internal/interview/router"
	"mira/internal/interview/symptoms"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/prompts"
)

// Turn carries the per-session working set a runner reads and mutates while
// handling one exchange. The orchestrator holds the session lock for the
// whole call, so runners never synchronize on their own.
type Turn struct {
	Session *interview.Session
	State   *interview.ModuleState
	Results map[string]*interview.ModuleResult
	History []interview.ConversationTurn
	Input   string
}

// StepOutcome is what one runner step produced. Done marks the module
// finished; Result is only set alongside Done.
type StepOutcome struct {
	Message    string
	QuestionID string
	Done       bool
	Result     *interview.ModuleResult
}

// Runner drives one assessment stage. Runners are stateless and shared
// across sessions; everything session-scoped arrives in the Turn. Steps are
// total: a runner reports trouble through the outcome, never by failing the
// turn.
type Runner interface {
	ID() string
	Definition() *interview.ModuleDefinition

	// Enter opens the stage: question stages route and return their first
	// prompt, synthesis stages do their whole job and come back Done.
	// Entering a stage with prior state resumes it.
	Enter(ctx context.Context, t *Turn) *StepOutcome

	// HandleTurn consumes one user message and advances the stage.
	HandleTurn(ctx context.Context, t *Turn) *StepOutcome
}

// RunnerDeps is the shared toolset handed to every runner factory.
type RunnerDeps struct {
	Pipeline  *extract.Pipeline
	Router    *router.Router
	Ledger    *symptoms.Ledger
	Client    llm.Client
	Prompts   *prompts.Loader
	Interview config.InterviewConfig
	Metrics   *Metrics
	Logger    logging.Logger
}

// Factory builds the runner for one module definition.
type Factory func(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error)

// Registry maps module ids to runner factories. Modules without a dedicated
// factory fall back to the question runner, so new question modules need
// only a YAML definition.
type Registry struct {
	factories map[string]Factory
	fallback  Factory
}

// NewRegistry returns an empty registry with the question runner as the
// fallback factory.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		fallback:  newQuestionRunner,
	}
}

// Register binds a module id to a dedicated factory, replacing any earlier
// binding.
func (r *Registry) Register(moduleID string, f Factory) {
	r.factories[moduleID] = f
}

// SetFallback replaces the factory used for ids without a dedicated binding.
func (r *Registry) SetFallback(f Factory) {
	r.fallback = f
}

func (r *Registry) factory(moduleID string) Factory {
	if f, ok := r.factories[moduleID]; ok {
		return f
	}
	return r.fallback
}

// BuiltinRegistry wires the two synthesis stages; every other module runs as
// a question module.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register("diagnostic_analysis", newAnalysisRunner)
	r.Register("treatment_planning", newPlanningRunner)
	return r
}

// RenderQuestion formats a question for the reply, spelling out how closed
// types expect to be answered.
func RenderQuestion(q *interview.Question) string {
	switch q.Type {
	case interview.ResponseMultipleChoice:
		var b strings.Builder
		b.WriteString(q.Text)
		for i, opt := range q.Options {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, opt)
		}
		return b.String()
	case interview.ResponseScale:
		return fmt.Sprintf("%s (%d to %d)", q.Text, q.ScaleMin, q.ScaleMax)
	default:
		return q.Text
	}
}
