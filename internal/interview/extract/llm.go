package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"mira/internal/interview"
	"mira/internal/llm"
	"mira/internal/prompts"
	"mira/internal/token"
)

// contextTokenBudget bounds how much recent conversation travels in the
// extraction prompt.
const contextTokenBudget = 600

// llmEnvelope is the JSON payload the extraction prompts ask for.
type llmEnvelope struct {
	Value      any               `json:"value"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Structured *envelopeDetail   `json:"structured,omitempty"`
	Symptoms   []envelopeSymptom `json:"symptoms,omitempty"`
}

type envelopeDetail struct {
	Duration  string   `json:"duration,omitempty"`
	Severity  string   `json:"severity,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	Triggers  []string `json:"triggers,omitempty"`
	Impact    string   `json:"impact,omitempty"`
}

type envelopeSymptom struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
	Context  string `json:"context,omitempty"`
}

// runLLMPrimary asks the model for a full extraction with conversation
// context and structured detail.
func (p *Pipeline) runLLMPrimary(ctx context.Context, obs observation) (*interview.ProcessedResponse, error) {
	pctx := p.promptContext(obs, true)
	prompt, err := p.loader.ExtractionPrompt(pctx)
	if err != nil {
		return nil, fmt.Errorf("render extraction prompt: %w", err)
	}
	system, err := p.loader.ExtractionSystemPrompt()
	if err != nil {
		return nil, fmt.Errorf("render extraction system prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMPrimaryTimeout)
	defer cancel()

	resp, err := p.client.Generate(callCtx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: system,
		Temperature:  0,
		MaxTokens:    500,
	})
	if err != nil {
		return nil, err
	}

	env, err := parseEnvelope(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return p.envelopeToResponse(env, obs, interview.MethodLLMPrimary), nil
}

// runLLMFallback is the cheap retry path: a minimal prompt, a short timeout,
// and only value plus confidence expected back.
func (p *Pipeline) runLLMFallback(ctx context.Context, obs observation) (*interview.ProcessedResponse, error) {
	pctx := p.promptContext(obs, false)
	prompt, err := p.loader.FallbackPrompt(pctx)
	if err != nil {
		return nil, fmt.Errorf("render fallback prompt: %w", err)
	}
	system, err := p.loader.ExtractionSystemPrompt()
	if err != nil {
		return nil, fmt.Errorf("render extraction system prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMFallbackTimeout)
	defer cancel()

	resp, err := p.client.Generate(callCtx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: system,
		Temperature:  0,
		MaxTokens:    p.cfg.LLMFallbackMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	env, err := parseEnvelope(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse fallback response: %w", err)
	}
	return p.envelopeToResponse(env, obs, interview.MethodLLMFallback), nil
}

// promptContext assembles the template variables for one extraction call.
// withConversation controls whether the recent-turn window is included.
func (p *Pipeline) promptContext(obs observation, withConversation bool) prompts.ExtractionContext {
	pctx := prompts.ExtractionContext{
		QuestionID:   obs.question.ID,
		QuestionText: obs.question.Text,
		AnswerType:   string(obs.question.Type),
		Options:      renderOptions(obs.question),
		Message:      obs.rawText,
	}
	if withConversation {
		pctx.Conversation = p.conversationWindow(obs)
	}
	return pctx
}

// conversationWindow formats the most recent turns, newest last, trimmed to
// the token budget.
func (p *Pipeline) conversationWindow(obs observation) string {
	turns := obs.conversation
	if n := p.cfg.ContextWindowTurns; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		speaker := "Interviewer"
		if turn.Role == interview.RoleUser {
			speaker = "Patient"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, turn.Content))
	}
	lines = token.TrimLinesToBudget(lines, contextTokenBudget)
	if len(lines) == 0 {
		return "(no prior conversation)"
	}
	return strings.Join(lines, "\n")
}

// renderOptions formats the answer space for the prompt: numbered options
// for multiple choice, the range for scales, empty otherwise.
func renderOptions(q *interview.Question) string {
	switch q.Type {
	case interview.ResponseMultipleChoice:
		var b strings.Builder
		for i, opt := range q.Options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
		}
		return strings.TrimRight(b.String(), "\n")
	case interview.ResponseScale:
		return fmt.Sprintf("%d to %d", q.ScaleMin, q.ScaleMax)
	default:
		return ""
	}
}

// parseEnvelope decodes model output into the extraction envelope. Models
// wrap JSON in markdown fences or emit trailing commas often enough that a
// repair pass runs before giving up.
func parseEnvelope(content string) (*llmEnvelope, error) {
	candidate := stripFences(content)
	if candidate == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var env llmEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err == nil {
		return &env, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr == nil {
		if err := json.Unmarshal([]byte(repaired), &env); err == nil {
			return &env, nil
		}
	}

	// Last resort: take the outermost object literal.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), &env); err == nil {
			return &env, nil
		}
	}
	return nil, fmt.Errorf("model output is not valid JSON")
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// envelopeToResponse converts a parsed envelope into the pipeline's common
// response shape. Value normalization here is type coercion only; enum and
// range checks happen in the validation stage.
func (p *Pipeline) envelopeToResponse(env *llmEnvelope, obs observation, method interview.ExtractionMethod) *interview.ProcessedResponse {
	resp := &interview.ProcessedResponse{
		QuestionID: obs.question.ID,
		Value:      normalizeValue(env.Value, obs.question),
		Confidence: interview.ClampConfidence(env.Confidence),
		RawText:    obs.rawText,
		Method:     method,
	}
	if env.Structured != nil {
		resp.Structured = interview.StructuredFields{
			Duration:  strings.TrimSpace(env.Structured.Duration),
			Severity:  strings.TrimSpace(env.Structured.Severity),
			Frequency: strings.TrimSpace(env.Structured.Frequency),
			Triggers:  env.Structured.Triggers,
			Impact:    strings.TrimSpace(env.Structured.Impact),
		}
	}
	for _, s := range env.Symptoms {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			continue
		}
		resp.Symptoms = append(resp.Symptoms, interview.SymptomMention{
			Name:       name,
			Category:   strings.ToLower(strings.TrimSpace(s.Category)),
			Severity:   strings.TrimSpace(s.Severity),
			Context:    strings.TrimSpace(s.Context),
			Confidence: resp.Confidence,
		})
	}
	return resp
}

// normalizeValue coerces the model's value into the canonical form for the
// question type: "yes"/"no" strings, float64 scale points, verbatim-ish
// strings otherwise. Unknown markers become null.
func normalizeValue(v any, q *interview.Question) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case float64:
		if q.Type == interview.ResponseScale {
			return val
		}
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	case string:
		trimmed := strings.TrimSpace(val)
		switch strings.ToLower(trimmed) {
		case "", "null", "none", "unknown", "n/a":
			return nil
		case "true":
			if q.Type == interview.ResponseYesNo {
				return "yes"
			}
		case "false":
			if q.Type == interview.ResponseYesNo {
				return "no"
			}
		}
		if q.Type == interview.ResponseScale && numericPattern.MatchString(trimmed) {
			return float64(parseInt(trimmed))
		}
		return trimmed
	default:
		return nil
	}
}
