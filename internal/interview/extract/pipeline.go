// Package extract turns raw patient text into structured answers. It layers
// a deterministic rule matcher, model-backed extraction, and a hybrid
// cross-check, falling from one strategy to the next until a result clears
// its confidence threshold. Extract never panics and never returns an
// error; when every strategy fails the caller gets a null-value response
// that asks for clarification.
package extract

import (
	"context"
	"fmt"
	"strings"

	"mira/internal/config"
	"mira/internal/interview"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/prompts"
)

// Input-length breakpoints for strategy selection, in words.
const (
	shortInputWords = 12
	longInputWords  = 30
)

// validationPenalty is subtracted from confidence when the validation stage
// has to normalize a value instead of passing it through.
const validationPenalty = 0.15

// Request is one extraction job: the question on the table, what the
// patient said, and enough history to interpret it.
type Request struct {
	Question      *interview.Question
	Message       string
	Conversation  []interview.ConversationTurn
	Profile       interview.UserProfile
	PriorAttempts int
}

// Pipeline is safe for concurrent use; all per-turn state lives in locals.
type Pipeline struct {
	client llm.Client
	loader *prompts.Loader
	cfg    config.ExtractionConfig
	stats  *StrategyStats
	logger logging.Logger
}

func NewPipeline(client llm.Client, loader *prompts.Loader, cfg config.ExtractionConfig, logger logging.Logger) *Pipeline {
	return &Pipeline{
		client: client,
		loader: loader,
		cfg:    cfg,
		stats:  NewStrategyStats(),
		logger: logging.OrNop(logger),
	}
}

// Stats exposes the accumulated strategy outcomes.
func (p *Pipeline) Stats() *StrategyStats { return p.stats }

// observation is the assembled context for one extraction run.
type observation struct {
	rawText       string
	question      *interview.Question
	conversation  []interview.ConversationTurn
	profile       interview.UserProfile
	wordCount     int
	priorAttempts int
}

// extractionPlan is the ordered strategy list with acceptance thresholds.
type extractionPlan struct {
	order      []interview.ExtractionMethod
	thresholds map[interview.ExtractionMethod]float64
}

type attemptOutcome struct {
	method     interview.ExtractionMethod
	accepted   bool
	confidence float64
}

// Extract runs the full pipeline for one user turn.
func (p *Pipeline) Extract(ctx context.Context, req Request) *interview.ProcessedResponse {
	obs := p.observe(req)
	if obs.question == nil {
		return &interview.ProcessedResponse{
			Confidence:         0,
			NeedsClarification: true,
			RawText:            obs.rawText,
			Method:             interview.MethodNone,
		}
	}
	if obs.rawText == "" {
		resp := p.clarificationResponse(obs)
		p.finalize(resp, obs)
		return resp
	}

	primary := p.reason(obs)
	plan := p.plan(primary)
	p.logger.Debug("extraction strategy %s for question %s (%d words, attempt %d)",
		primary, obs.question.ID, obs.wordCount, obs.priorAttempts+1)

	resp, attempts := p.act(ctx, obs, plan)
	resp = p.validate(resp, obs)
	p.finalize(resp, obs)
	p.learn(obs, attempts)
	return resp
}

func (p *Pipeline) observe(req Request) observation {
	raw := strings.TrimSpace(req.Message)
	return observation{
		rawText:       raw,
		question:      req.Question,
		conversation:  req.Conversation,
		profile:       req.Profile,
		wordCount:     len(strings.Fields(raw)),
		priorAttempts: req.PriorAttempts,
	}
}

// reason picks the primary strategy. Short answers to closed questions suit
// the deterministic matcher; free text and rambling answers need the model;
// the middle ground gets the hybrid cross-check. A repeat attempt means the
// cheap path already failed once, so go straight to the model.
func (p *Pipeline) reason(obs observation) interview.ExtractionMethod {
	if obs.question.Type == interview.ResponseFreeText || obs.wordCount > longInputWords {
		return interview.MethodLLMPrimary
	}
	if obs.priorAttempts > 0 {
		return interview.MethodLLMPrimary
	}
	if obs.wordCount <= shortInputWords && obs.profile.Reliable() {
		return interview.MethodRuleBased
	}
	switch obs.question.Type {
	case interview.ResponseYesNo, interview.ResponseScale:
		return interview.MethodRuleBased
	case interview.ResponseMultipleChoice:
		if obs.wordCount <= shortInputWords {
			return interview.MethodRuleBased
		}
	}
	return interview.MethodHybrid
}

func (p *Pipeline) plan(primary interview.ExtractionMethod) extractionPlan {
	thresholds := map[interview.ExtractionMethod]float64{
		interview.MethodRuleBased:   p.cfg.RuleThreshold,
		interview.MethodLLMPrimary:  p.cfg.LLMPrimaryThreshold,
		interview.MethodLLMFallback: p.cfg.LLMFallbackThreshold,
		interview.MethodHybrid:      p.cfg.HybridThreshold,
	}

	var order []interview.ExtractionMethod
	switch primary {
	case interview.MethodRuleBased:
		order = []interview.ExtractionMethod{
			interview.MethodRuleBased, interview.MethodLLMPrimary, interview.MethodLLMFallback,
		}
	case interview.MethodLLMPrimary:
		order = []interview.ExtractionMethod{
			interview.MethodLLMPrimary, interview.MethodLLMFallback, interview.MethodRuleBased,
		}
	case interview.MethodHybrid:
		// Hybrid already runs the rule matcher and the primary model call
		// internally, so the only fallback left is the cheap model path.
		order = []interview.ExtractionMethod{
			interview.MethodHybrid, interview.MethodLLMFallback,
		}
	default:
		order = []interview.ExtractionMethod{
			interview.MethodLLMFallback, interview.MethodRuleBased,
		}
	}
	return extractionPlan{order: order, thresholds: thresholds}
}

// act runs strategies in order until one clears its threshold with a usable
// value and no validation errors.
func (p *Pipeline) act(ctx context.Context, obs observation, plan extractionPlan) (*interview.ProcessedResponse, []attemptOutcome) {
	attempts := make([]attemptOutcome, 0, len(plan.order))

	for _, method := range plan.order {
		resp, err := p.runMethod(ctx, method, obs)
		if err != nil {
			p.logger.Warn("extraction method %s failed for question %s: %v", method, obs.question.ID, err)
			attempts = append(attempts, attemptOutcome{method: method})
			continue
		}
		if resp == nil || !resp.Answered() || len(resp.ValidationErrors) > 0 ||
			resp.Confidence < plan.thresholds[method] {
			var conf float64
			if resp != nil {
				conf = resp.Confidence
			}
			p.logger.Debug("extraction method %s rejected for question %s (confidence %.2f)",
				method, obs.question.ID, conf)
			attempts = append(attempts, attemptOutcome{method: method, confidence: conf})
			continue
		}
		attempts = append(attempts, attemptOutcome{method: method, accepted: true, confidence: resp.Confidence})
		return resp, attempts
	}
	return p.clarificationResponse(obs), attempts
}

// runMethod dispatches one strategy. A panicking matcher is an extraction
// failure, not a crashed turn.
func (p *Pipeline) runMethod(ctx context.Context, method interview.ExtractionMethod, obs observation) (resp *interview.ProcessedResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("extraction method %s panicked: %v", method, r)
		}
	}()

	switch method {
	case interview.MethodRuleBased:
		return p.runRuleBased(obs), nil
	case interview.MethodLLMPrimary:
		return p.runLLMPrimary(ctx, obs)
	case interview.MethodLLMFallback:
		return p.runLLMFallback(ctx, obs)
	case interview.MethodHybrid:
		return p.runHybrid(ctx, obs)
	default:
		return nil, fmt.Errorf("unknown extraction method %q", method)
	}
}

// runHybrid cross-checks the deterministic matcher against the model. A
// confident rule verdict short-circuits the model call entirely.
func (p *Pipeline) runHybrid(ctx context.Context, obs observation) (*interview.ProcessedResponse, error) {
	rule := p.runRuleBased(obs)
	if rule.Answered() && rule.Confidence >= p.cfg.HybridRuleAccept {
		rule.Method = interview.MethodHybrid
		return rule, nil
	}

	model, err := p.runLLMPrimary(ctx, obs)
	if err != nil {
		// Model unavailable. Keep the weak rule verdict at reduced
		// confidence instead of discarding it.
		if rule.Answered() {
			rule.Method = interview.MethodHybrid
			rule.Confidence = interview.ClampConfidence(rule.Confidence - p.cfg.HybridDegradedPenalty)
			return rule, nil
		}
		return nil, err
	}
	model.Method = interview.MethodHybrid

	if !rule.Answered() {
		return model, nil
	}
	if !model.Answered() {
		return rule, nil
	}

	if strings.EqualFold(rule.ValueString(), model.ValueString()) {
		merged := model
		if rule.Confidence > merged.Confidence {
			merged.Confidence = rule.Confidence
		}
		merged.Confidence = interview.ClampConfidence(merged.Confidence + p.cfg.HybridAgreementBonus)
		merged.Structured = fillStructured(merged.Structured, rule.Structured)
		merged.Symptoms = mergeMentions(merged.Symptoms, rule.Symptoms)
		return merged, nil
	}

	// Disagreement: trust whichever side is more confident, model on ties.
	if rule.Confidence > model.Confidence {
		return rule, nil
	}
	return model, nil
}

// validate re-checks the winning value against the question schema. A
// mismatch reduces confidence and records a validation error; only values
// that cannot be mapped at all become null.
func (p *Pipeline) validate(resp *interview.ProcessedResponse, obs observation) *interview.ProcessedResponse {
	if resp == nil {
		return p.clarificationResponse(obs)
	}
	if !resp.Answered() {
		resp.NeedsClarification = true
		return resp
	}

	switch obs.question.Type {
	case interview.ResponseYesNo:
		p.validateYesNo(resp)
	case interview.ResponseMultipleChoice:
		p.validateChoice(resp, obs.question)
	case interview.ResponseScale:
		p.validateScale(resp, obs.question)
	case interview.ResponseFreeText:
		if strings.TrimSpace(resp.ValueString()) == "" {
			p.rejectValue(resp, "empty answer")
		}
	}
	resp.Confidence = interview.ClampConfidence(resp.Confidence)
	return resp
}

func (p *Pipeline) validateYesNo(resp *interview.ProcessedResponse) {
	v := strings.ToLower(strings.TrimSpace(resp.ValueString()))
	switch v {
	case "yes", "no":
		resp.Value = v
		return
	}

	// The model answered in prose; run it back through the decision matrix.
	if res := matchYesNo(v); res.value != nil {
		resp.Value = res.value
		resp.Confidence -= validationPenalty
		resp.ValidationErrors = append(resp.ValidationErrors,
			fmt.Sprintf("answer %q normalized to %v", v, res.value))
		return
	}
	p.rejectValue(resp, fmt.Sprintf("answer %q is not yes or no", v))
}

func (p *Pipeline) validateChoice(resp *interview.ProcessedResponse, q *interview.Question) {
	v := strings.TrimSpace(resp.ValueString())
	for _, opt := range q.Options {
		if strings.EqualFold(v, opt) {
			resp.Value = opt
			return
		}
	}

	// Not a verbatim option: map it through the option matchers with the
	// relaxed floor before giving up.
	if value, _ := matchChoice(v, q, p.cfg.FuzzyRelaxedFloor); value != nil {
		resp.ValidationErrors = append(resp.ValidationErrors,
			fmt.Sprintf("answer %q normalized to option %q", v, value))
		resp.Value = value
		resp.Confidence -= validationPenalty
		return
	}
	p.rejectValue(resp, fmt.Sprintf("answer %q matches no option", v))
}

func (p *Pipeline) validateScale(resp *interview.ProcessedResponse, q *interview.Question) {
	n, ok := resp.Value.(float64)
	if !ok {
		s := strings.TrimSpace(resp.ValueString())
		if !numericPattern.MatchString(s) {
			p.rejectValue(resp, fmt.Sprintf("answer %q is not a number", s))
			return
		}
		n = float64(parseInt(s))
	}
	resp.Value = n

	if n < float64(q.ScaleMin) || n > float64(q.ScaleMax) {
		// Out of range is surfaced with a warning rather than dropped.
		resp.ValidationErrors = append(resp.ValidationErrors,
			fmt.Sprintf("value %g outside scale %d to %d", n, q.ScaleMin, q.ScaleMax))
		resp.Confidence -= validationPenalty
	}
}

func (p *Pipeline) rejectValue(resp *interview.ProcessedResponse, reason string) {
	resp.ValidationErrors = append(resp.ValidationErrors, reason)
	resp.Value = nil
	resp.Confidence = 0
	resp.NeedsClarification = true
}

// finalize stamps criterion resolution and the per-turn symptom scan onto
// the response. The keyword scan backstops model extraction so a risk
// phrase is never lost to a failed call.
func (p *Pipeline) finalize(resp *interview.ProcessedResponse, obs observation) {
	q := obs.question
	if q.CriterionID != "" && len(resp.CriteriaMapping) == 0 {
		switch resp.ValueString() {
		case "yes":
			resp.CriteriaMapping = map[string]bool{q.CriterionID: true}
		case "no":
			resp.CriteriaMapping = map[string]bool{q.CriterionID: false}
		}
	}
	resp.Symptoms = mergeMentions(resp.Symptoms, ScanSymptoms(obs.rawText))
}

// learn records attempt outcomes for strategy tuning. Best effort: it never
// blocks a turn and swallows its own failures.
func (p *Pipeline) learn(obs observation, attempts []attemptOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("extraction stats recording panicked: %v", r)
		}
	}()
	for _, a := range attempts {
		p.stats.RecordOutcome(obs.question.Type, a.method, a.accepted, a.confidence)
	}
}

// clarificationResponse is the terminal result when no strategy produced an
// acceptable answer.
func (p *Pipeline) clarificationResponse(obs observation) *interview.ProcessedResponse {
	return &interview.ProcessedResponse{
		QuestionID:         obs.question.ID,
		Value:              nil,
		Confidence:         0,
		NeedsClarification: true,
		RawText:            obs.rawText,
		Method:             interview.MethodNone,
	}
}

// fillStructured completes empty fields in primary from secondary.
func fillStructured(primary, secondary interview.StructuredFields) interview.StructuredFields {
	if primary.Duration == "" {
		primary.Duration = secondary.Duration
	}
	if primary.Severity == "" {
		primary.Severity = secondary.Severity
	}
	if primary.Frequency == "" {
		primary.Frequency = secondary.Frequency
	}
	if len(primary.Triggers) == 0 {
		primary.Triggers = secondary.Triggers
	}
	if primary.Impact == "" {
		primary.Impact = secondary.Impact
	}
	return primary
}

// mergeMentions unions two mention lists by name. Entries in primary win;
// secondary only contributes names not already present.
func mergeMentions(primary, secondary []interview.SymptomMention) []interview.SymptomMention {
	if len(secondary) == 0 {
		return primary
	}
	seen := make(map[string]bool, len(primary))
	for _, m := range primary {
		seen[m.Name] = true
	}
	out := primary
	for _, m := range secondary {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out
}
