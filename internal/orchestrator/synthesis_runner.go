package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mira/internal/interview"
	"mira/internal/llm"
)

const (
	synthesisTemperature = 0.3
	synthesisMaxTokens   = 700
)

type synthesisKind string

const (
	synthesisDiagnostic synthesisKind = "diagnostic"
	synthesisTreatment  synthesisKind = "treatment"
)

// synthesisRunner is a zero-question stage: on entry it condenses the
// completed modules and the symptom ledger into a narrative, through the
// model when one is available and through a plain deterministic summary when
// not. It never blocks the interview on a model failure.
type synthesisRunner struct {
	def  *interview.ModuleDefinition
	deps RunnerDeps
	kind synthesisKind
}

func newAnalysisRunner(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error) {
	return newSynthesisRunner(def, deps, synthesisDiagnostic)
}

func newPlanningRunner(def *interview.ModuleDefinition, deps RunnerDeps) (Runner, error) {
	return newSynthesisRunner(def, deps, synthesisTreatment)
}

func newSynthesisRunner(def *interview.ModuleDefinition, deps RunnerDeps, kind synthesisKind) (Runner, error) {
	if def == nil {
		return nil, fmt.Errorf("synthesis runner: module definition is required")
	}
	return &synthesisRunner{def: def, deps: deps, kind: kind}, nil
}

func (r *synthesisRunner) ID() string { return r.def.ID }

func (r *synthesisRunner) Definition() *interview.ModuleDefinition { return r.def }

func (r *synthesisRunner) Enter(ctx context.Context, t *Turn) *StepOutcome {
	narrative := r.narrative(ctx, t)
	return &StepOutcome{
		Message: narrative,
		Done:    true,
		Result: &interview.ModuleResult{
			ModuleID:     r.def.ID,
			Narrative:    narrative,
			SymptomCount: r.deps.Ledger.Count(t.Session.ID),
			CompletedAt:  time.Now(),
		},
	}
}

// HandleTurn only fires on a stray message while the stage is current, which
// a completing Enter normally prevents. Re-entering is harmless.
func (r *synthesisRunner) HandleTurn(ctx context.Context, t *Turn) *StepOutcome {
	return r.Enter(ctx, t)
}

func (r *synthesisRunner) narrative(ctx context.Context, t *Turn) string {
	moduleSummaries := summarizeResults(t.Results)
	symptomSummary := summarizeSymptoms(r.deps.Ledger.Entries(t.Session.ID))

	text, err := r.generate(ctx, t, moduleSummaries, symptomSummary)
	if err == nil {
		return text
	}
	r.deps.Logger.Warn("synthesis %s: model narrative unavailable: %v", r.def.ID, err)
	r.deps.Metrics.IncSynthesisFallback(r.def.ID)
	return r.fallbackNarrative(moduleSummaries, symptomSummary)
}

func (r *synthesisRunner) generate(ctx context.Context, t *Turn, moduleSummaries, symptomSummary string) (string, error) {
	if r.deps.Client == nil || r.deps.Prompts == nil {
		return "", fmt.Errorf("no synthesis model configured")
	}

	var prompt string
	var err error
	switch r.kind {
	case synthesisTreatment:
		prompt, err = r.deps.Prompts.TreatmentPrompt(r.diagnosticNarrative(t), moduleSummaries)
	default:
		prompt, err = r.deps.Prompts.DiagnosticPrompt(moduleSummaries, symptomSummary)
	}
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	system, err := r.deps.Prompts.SynthesisSystemPrompt()
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}

	started := time.Now()
	resp, err := r.deps.Client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: system,
		Temperature:  synthesisTemperature,
		MaxTokens:    synthesisMaxTokens,
	})
	r.deps.Metrics.ObserveSynthesis(r.def.ID, time.Since(started), err)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("model returned an empty narrative")
	}
	return text, nil
}

// diagnosticNarrative finds the analysis stage's output for the treatment
// prompt. Any earlier narrative counts; treatment always runs after analysis.
func (r *synthesisRunner) diagnosticNarrative(t *Turn) string {
	ids := make([]string, 0, len(t.Results))
	for mid := range t.Results {
		ids = append(ids, mid)
	}
	sort.Strings(ids)
	for _, mid := range ids {
		if res := t.Results[mid]; res != nil && res.Narrative != "" {
			return res.Narrative
		}
	}
	return "No diagnostic summary was produced."
}

func (r *synthesisRunner) fallbackNarrative(moduleSummaries, symptomSummary string) string {
	if r.kind == synthesisTreatment {
		return strings.Join([]string{
			"Here is a plain summary of suggested next steps based on this conversation.",
			"Screening outcomes:\n" + moduleSummaries,
			"Any area that reached its screening threshold is worth discussing with a clinician, who can do a full evaluation and talk through options such as therapy or medication. If anything feels urgent, reach out to a crisis line or emergency services right away.",
		}, "\n\n")
	}
	return strings.Join([]string{
		"Here is a summary of the screening so far.",
		"Screening outcomes:\n" + moduleSummaries,
		"Symptoms discussed:\n" + symptomSummary,
		"This is a structured screening summary, not a diagnosis. A clinician can review these results with you.",
	}, "\n\n")
}

// summarizeResults renders completed module outcomes as prompt-ready lines,
// in a stable order.
func summarizeResults(results map[string]*interview.ModuleResult) string {
	if len(results) == 0 {
		return "No module results recorded."
	}
	ids := make([]string, 0, len(results))
	for mid := range results {
		ids = append(ids, mid)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, mid := range ids {
		res := results[mid]
		if res == nil {
			continue
		}
		total := res.Summary.MetCount + res.Summary.UnmetCount + res.Summary.UnknownCount
		if total == 0 {
			if res.Narrative != "" {
				fmt.Fprintf(&b, "- %s: summary already produced\n", mid)
			} else {
				fmt.Fprintf(&b, "- %s: %d responses recorded\n", mid, len(res.Responses))
			}
			continue
		}
		verdict := "below screening threshold"
		if res.Summary.CriteriaMet {
			verdict = "screening threshold reached"
		}
		fmt.Fprintf(&b, "- %s: %d of %d criteria met (minimum %d), %s",
			mid, res.Summary.MetCount, total, res.Summary.MinimumRequired, verdict)
		if res.EarlyStop {
			fmt.Fprintf(&b, ", stopped early: %s", res.EarlyStopReason)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarizeSymptoms renders the session ledger as prompt-ready lines.
func summarizeSymptoms(entries []interview.Symptom) string {
	if len(entries) == 0 {
		return "No symptoms recorded."
	}
	var b strings.Builder
	for _, s := range entries {
		fmt.Fprintf(&b, "- %s", s.Name)
		if s.Category != "" {
			fmt.Fprintf(&b, " (%s)", s.Category)
		}
		fmt.Fprintf(&b, ": mentioned %d time(s)", s.MentionCount)
		if s.Severity != "" {
			fmt.Fprintf(&b, ", severity %s", s.Severity)
		}
		if s.Duration != "" {
			fmt.Fprintf(&b, ", duration %s", s.Duration)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
