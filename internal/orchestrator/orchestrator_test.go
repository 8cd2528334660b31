package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"mira/internal/config"
	"mira/internal/interview"
	"mira/internal/interview/extract"
	"mira/internal/llm"
	"mira/internal/prompts"
	"mira/internal/store"
)

type testEnv struct {
	orch    *Orchestrator
	client  *llm.MockClient
	metrics *Metrics
	promReg *prometheus.Registry
	store   store.Store
}

func newTestEnv(t *testing.T, defs []*interview.ModuleDefinition, mutate func(*Dependencies)) *testEnv {
	t.Helper()
	client := llm.NewMockClient("mock-model")
	loader, err := prompts.NewLoader()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Interview.StartingModule = ""

	promReg := prometheus.NewRegistry()
	deps := Dependencies{
		Modules:  defs,
		Store:    store.NewMemory(),
		Pipeline: extract.NewPipeline(client, loader, cfg.Extraction, nil),
		Client:   client,
		Prompts:  loader,
		Config:   cfg,
		Metrics:  MustNewMetrics(promReg),
	}
	if mutate != nil {
		mutate(&deps)
	}
	orch, err := New(deps)
	require.NoError(t, err)
	return &testEnv{orch: orch, client: client, metrics: deps.Metrics, promReg: promReg, store: deps.Store}
}

func screeningModules() []*interview.ModuleDefinition {
	return []*interview.ModuleDefinition{
		{
			ID:    "checkin",
			Name:  "Checking In",
			Group: interview.GroupIntake,
			Questions: []interview.Question{
				{ID: "chk_1", Sequence: 1, Text: "Have you had trouble sleeping lately?", Type: interview.ResponseYesNo, Priority: interview.PriorityHigh, Required: true, CriterionID: "sleep_trouble"},
				{ID: "chk_2", Sequence: 2, Text: "How would you rate the past week overall?", Type: interview.ResponseScale, ScaleMin: 0, ScaleMax: 10, Priority: interview.PriorityMedium},
			},
		},
		{
			ID:           "screen",
			Name:         "Screening",
			Group:        interview.GroupDiagnostic,
			MinQuestions: 2,
			Criteria:     interview.CriteriaSpec{Type: interview.CriteriaSymptomCount, MinimumRequired: 2},
			Questions: []interview.Question{
				{ID: "scr_1", Sequence: 1, Text: "Have you been feeling down most days?", Type: interview.ResponseYesNo, Priority: interview.PriorityHigh, Required: true, CriterionID: "low_mood"},
				{ID: "scr_2", Sequence: 2, Text: "Have you lost interest in things you usually enjoy?", Type: interview.ResponseYesNo, Priority: interview.PriorityHigh, Required: true, CriterionID: "lost_interest"},
				{ID: "scr_3", Sequence: 3, Text: "Have you felt unusually tired?", Type: interview.ResponseYesNo, Priority: interview.PriorityMedium, CriterionID: "fatigue"},
			},
		},
		{
			ID:          "diagnostic_analysis",
			Name:        "Summary",
			Description: "Condenses the screening into a narrative.",
			Group:       interview.GroupAnalysis,
		},
		{
			ID:          "treatment_planning",
			Name:        "Next Steps",
			Description: "Suggests follow-up steps.",
			Group:       interview.GroupPlanning,
		},
	}
}

func safetyModules() []*interview.ModuleDefinition {
	return []*interview.ModuleDefinition{
		{
			ID:       "risk_check",
			Name:     "Risk Check",
			Group:    interview.GroupSafety,
			Criteria: interview.CriteriaSpec{Type: interview.CriteriaSymptomCount, MinimumRequired: 1},
			Questions: []interview.Question{
				{ID: "rsk_1", Sequence: 1, Text: "Have you had thoughts of hurting yourself?", Type: interview.ResponseYesNo, Priority: interview.PrioritySafety, Required: true, CriterionID: "self_harm_risk"},
				{ID: "rsk_2", Sequence: 2, Text: "Have you been in situations lately where you did not feel safe?", Type: interview.ResponseYesNo, Priority: interview.PrioritySafety, Required: true, CriterionID: "unsafe_environment"},
			},
		},
	}
}

func TestStartSessionAsksFirstQuestion(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)

	reply, err := env.orch.StartSession(context.Background(), "user-1", "")
	require.NoError(t, err)

	require.NotEmpty(t, reply.Metadata.SessionID)
	require.Equal(t, "checkin", reply.Metadata.Module)
	require.Equal(t, "chk_1", reply.Metadata.QuestionID)
	require.False(t, reply.IsComplete)
	require.Contains(t, reply.Message, "I'm Mira")
	require.Contains(t, reply.Message, "trouble sleeping")
}

func TestStartSessionTwiceFails(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)

	_, err := env.orch.StartSession(context.Background(), "user-1", "session-dup")
	require.NoError(t, err)
	_, err = env.orch.StartSession(context.Background(), "user-1", "session-dup")
	require.ErrorIs(t, err, ErrSessionExists)
}

func TestFullInterviewCompletes(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)
	env.client.Enqueue("Model diagnostic summary.", "Model treatment plan.")
	ctx := context.Background()

	reply, err := env.orch.StartSession(ctx, "user-1", "session-flow")
	require.NoError(t, err)
	require.Equal(t, "chk_1", reply.Metadata.QuestionID)

	reply, err = env.orch.ProcessMessage(ctx, "session-flow", "yes")
	require.NoError(t, err)
	require.Equal(t, "chk_2", reply.Metadata.QuestionID)

	reply, err = env.orch.ProcessMessage(ctx, "session-flow", "7")
	require.NoError(t, err)
	require.Equal(t, "screen", reply.Metadata.Module)
	require.Equal(t, "scr_1", reply.Metadata.QuestionID)
	require.Contains(t, reply.Message, "covers Checking In")

	reply, err = env.orch.ProcessMessage(ctx, "session-flow", "yes")
	require.NoError(t, err)
	require.Equal(t, "scr_2", reply.Metadata.QuestionID)

	// The second met criterion reaches the threshold with both required
	// questions answered, so the module stops early and the synthesis stages
	// run inline.
	reply, err = env.orch.ProcessMessage(ctx, "session-flow", "yes")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)
	require.Contains(t, reply.Message, "Model diagnostic summary.")
	require.Contains(t, reply.Message, "Model treatment plan.")
	require.Contains(t, reply.Message, "completes the interview")
	require.Len(t, env.client.Calls(), 2)

	results, err := env.orch.GetResults(ctx, "session-flow")
	require.NoError(t, err)
	require.Equal(t, interview.SessionComplete, results.State)
	require.Len(t, results.Modules, 4)
	require.Equal(t, "checkin", results.Modules[0].ModuleID)
	require.Equal(t, "screen", results.Modules[1].ModuleID)
	require.True(t, results.Modules[1].EarlyStop)
	require.Contains(t, results.Modules[1].EarlyStopReason, "2/2")
	require.Equal(t, "Model diagnostic summary.", results.Modules[2].Narrative)
	require.Equal(t, "Model treatment plan.", results.Modules[3].Narrative)

	progress, err := env.orch.GetProgress(ctx, "session-flow")
	require.NoError(t, err)
	require.True(t, progress.IsComplete)
	require.InDelta(t, 100, progress.OverallPct, 0.01)
}

func TestProcessMessageAfterCompletion(t *testing.T) {
	env := newTestEnv(t, safetyModules(), nil)
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-done")
	require.NoError(t, err)
	_, err = env.orch.ProcessMessage(ctx, "session-done", "no")
	require.NoError(t, err)
	reply, err := env.orch.ProcessMessage(ctx, "session-done", "no")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)

	reply, err = env.orch.ProcessMessage(ctx, "session-done", "hello?")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)
	require.Contains(t, reply.Message, "already complete")
}

func TestGetProgressMidSession(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-prog")
	require.NoError(t, err)
	_, err = env.orch.ProcessMessage(ctx, "session-prog", "yes")
	require.NoError(t, err)

	progress, err := env.orch.GetProgress(ctx, "session-prog")
	require.NoError(t, err)
	require.Equal(t, "checkin", progress.CurrentModule)
	require.False(t, progress.IsComplete)
	// Half of checkin answered, weighted across four modules.
	require.InDelta(t, 12.5, progress.OverallPct, 0.01)

	require.Len(t, progress.Modules, 4)
	require.Equal(t, interview.ModuleInProgress, progress.Modules[0].Status)
	require.Equal(t, 1, progress.Modules[0].Answered)
	require.Equal(t, 2, progress.Modules[0].Questions)
	require.Equal(t, interview.ModulePending, progress.Modules[1].Status)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)

	_, err := env.orch.ProcessMessage(context.Background(), "session-ghost", "hello")
	require.ErrorIs(t, err, ErrUnknownSession)
	_, err = env.orch.GetProgress(context.Background(), "session-ghost")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestSafetyFlagFromKeywordSticksWhileRiskOpen(t *testing.T) {
	env := newTestEnv(t, safetyModules(), nil)
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-risk")
	require.NoError(t, err)

	// The raw text trips the keyword scan even though extraction cannot
	// settle the yes/no and asks for clarification.
	reply, err := env.orch.ProcessMessage(ctx, "session-risk", "I keep thinking about hurting myself")
	require.NoError(t, err)
	require.True(t, reply.Metadata.SafetyFlag)
	require.Contains(t, reply.Message, "988")
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.safetyFlags.WithLabelValues("keyword")))

	reply, err = env.orch.ProcessMessage(ctx, "session-risk", "yes")
	require.NoError(t, err)
	require.True(t, reply.Metadata.SafetyFlag)

	// Completing the module with a met criterion keeps the flag raised.
	reply, err = env.orch.ProcessMessage(ctx, "session-risk", "no")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)
	require.True(t, reply.Metadata.SafetyFlag)

	results, err := env.orch.GetResults(ctx, "session-risk")
	require.NoError(t, err)
	require.True(t, results.SafetyFlag)
}

func TestSafetyFlagClearsWhenRiskResolvesLow(t *testing.T) {
	env := newTestEnv(t, safetyModules(), nil)
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-calm")
	require.NoError(t, err)

	// The leading "no" answers the question; the mention still raises the
	// flag for the rest of the module.
	reply, err := env.orch.ProcessMessage(ctx, "session-calm", "No, my cousin attempted suicide and I had to talk her through it")
	require.NoError(t, err)
	require.True(t, reply.Metadata.SafetyFlag)
	require.Equal(t, "rsk_2", reply.Metadata.QuestionID)

	reply, err = env.orch.ProcessMessage(ctx, "session-calm", "no")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)
	require.False(t, reply.Metadata.SafetyFlag, "flag should clear when the risk module resolves with nothing met")
}

func TestClarificationLimitMovesOn(t *testing.T) {
	env := newTestEnv(t, safetyModules(), nil)
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-mumble")
	require.NoError(t, err)

	reply, err := env.orch.ProcessMessage(ctx, "session-mumble", "hmm banana")
	require.NoError(t, err)
	require.Equal(t, "rsk_1", reply.Metadata.QuestionID)
	require.Contains(t, reply.Message, "didn't quite catch")

	reply, err = env.orch.ProcessMessage(ctx, "session-mumble", "purple dishwasher")
	require.NoError(t, err)
	require.Equal(t, "rsk_1", reply.Metadata.QuestionID)

	// The third failed attempt exhausts the budget; the interview moves on
	// with the question recorded unanswered.
	reply, err = env.orch.ProcessMessage(ctx, "session-mumble", "seventeen clouds")
	require.NoError(t, err)
	require.Equal(t, "rsk_2", reply.Metadata.QuestionID)
	require.Equal(t, float64(2), testutil.ToFloat64(env.metrics.clarifications.WithLabelValues("risk_check")))
}

func TestSessionRestoresFromStore(t *testing.T) {
	shared := store.NewMemory()
	envA := newTestEnv(t, screeningModules(), func(d *Dependencies) { d.Store = shared })
	ctx := context.Background()

	_, err := envA.orch.StartSession(ctx, "user-1", "session-resume")
	require.NoError(t, err)
	_, err = envA.orch.ProcessMessage(ctx, "session-resume", "yes")
	require.NoError(t, err)

	// A fresh orchestrator over the same store picks the session up where
	// the first process left it.
	envB := newTestEnv(t, screeningModules(), func(d *Dependencies) { d.Store = shared })
	reply, err := envB.orch.ProcessMessage(ctx, "session-resume", "7")
	require.NoError(t, err)
	require.Equal(t, "screen", reply.Metadata.Module)
	require.Equal(t, "scr_1", reply.Metadata.QuestionID)
}

func TestDegradedModuleSkipped(t *testing.T) {
	defs := append([]*interview.ModuleDefinition{
		{ID: "broken", Name: "Broken", Group: interview.GroupIntake},
	}, screeningModules()...)

	registry := BuiltinRegistry()
	registry.Register("broken", func(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error) {
		return nil, fmt.Errorf("nope")
	})

	env := newTestEnv(t, defs, func(d *Dependencies) { d.Registry = registry })
	require.Equal(t, []string{"broken"}, env.orch.Degraded())

	reply, err := env.orch.StartSession(context.Background(), "user-1", "session-degraded")
	require.NoError(t, err)
	require.Equal(t, "checkin", reply.Metadata.Module)

	progress, err := env.orch.GetProgress(context.Background(), "session-degraded")
	require.NoError(t, err)
	require.Equal(t, []string{"broken"}, progress.Degraded)
}

func TestSynthesisFallbackWithoutModel(t *testing.T) {
	defs := []*interview.ModuleDefinition{
		{ID: "diagnostic_analysis", Name: "Summary", Group: interview.GroupAnalysis},
	}
	env := newTestEnv(t, defs, nil)
	env.client.Fail(fmt.Errorf("model offline"))

	reply, err := env.orch.StartSession(context.Background(), "user-1", "session-offline")
	require.NoError(t, err)
	require.True(t, reply.IsComplete)
	require.Contains(t, reply.Message, "summary of the screening")
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.narrativeFallback.WithLabelValues("diagnostic_analysis")))

	results, err := env.orch.GetResults(context.Background(), "session-offline")
	require.NoError(t, err)
	require.Len(t, results.Modules, 1)
	require.Contains(t, results.Modules[0].Narrative, "not a diagnosis")
}

type panicRunner struct {
	def *interview.ModuleDefinition
}

func (p *panicRunner) ID() string { return p.def.ID }

func (p *panicRunner) Definition() *interview.ModuleDefinition { return p.def }

func (p *panicRunner) Enter(context.Context, *Turn) *StepOutcome { panic("boom") }

func (p *panicRunner) HandleTurn(context.Context, *Turn) *StepOutcome { panic("boom") }

func TestRunnerPanicRecovered(t *testing.T) {
	defs := []*interview.ModuleDefinition{
		{ID: "volatile", Name: "Volatile", Group: interview.GroupIntake},
	}
	registry := BuiltinRegistry()
	registry.Register("volatile", func(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error) {
		return &panicRunner{def: def}, nil
	})
	env := newTestEnv(t, defs, func(d *Dependencies) { d.Registry = registry })

	reply, err := env.orch.StartSession(context.Background(), "user-1", "session-panic")
	require.NoError(t, err)
	require.False(t, reply.IsComplete)
	require.Contains(t, reply.Message, "something went wrong")
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.turnFailures.WithLabelValues("volatile")))
}

func TestMetricsRecordedAcrossFlow(t *testing.T) {
	env := newTestEnv(t, screeningModules(), nil)
	env.client.Enqueue("Summary.", "Plan.")
	ctx := context.Background()

	_, err := env.orch.StartSession(ctx, "user-1", "session-metrics")
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.sessionsActive))

	for _, msg := range []string{"yes", "7", "yes", "yes"} {
		_, err = env.orch.ProcessMessage(ctx, "session-metrics", msg)
		require.NoError(t, err)
	}

	require.Equal(t, float64(0), testutil.ToFloat64(env.metrics.sessionsActive))
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.completions.WithLabelValues("checkin", "completed")))
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.completions.WithLabelValues("screen", "early_stop")))
	require.Equal(t, float64(4), testutil.ToFloat64(env.metrics.extractions.WithLabelValues("rule_based", "answered")))

	families, err := env.promReg.Gather()
	require.NoError(t, err)
	var turnSamples uint64
	for _, mf := range families {
		if mf.GetName() != "mira_interview_turn_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetHistogram() != nil {
				turnSamples += metric.GetHistogram().GetSampleCount()
			}
		}
	}
	require.Equal(t, uint64(4), turnSamples)
}

func TestRenderQuestionFormats(t *testing.T) {
	mcq := &interview.Question{
		Text:    "Which best describes your week?",
		Type:    interview.ResponseMultipleChoice,
		Options: []string{"Calm", "Stressful"},
	}
	require.Equal(t, "Which best describes your week?\n  1. Calm\n  2. Stressful", RenderQuestion(mcq))

	scale := &interview.Question{
		Text:     "Rate your mood.",
		Type:     interview.ResponseScale,
		ScaleMin: 0,
		ScaleMax: 10,
	}
	require.Equal(t, "Rate your mood. (0 to 10)", RenderQuestion(scale))

	free := &interview.Question{Text: "Tell me more.", Type: interview.ResponseFreeText}
	require.Equal(t, "Tell me more.", RenderQuestion(free))
}
