package interview

import "strconv"

// ExtractionMethod identifies which strategy produced a processed response.
type ExtractionMethod string

const (
	MethodRuleBased   ExtractionMethod = "rule_based"
	MethodLLMPrimary  ExtractionMethod = "llm_primary"
	MethodLLMFallback ExtractionMethod = "llm_fallback"
	MethodHybrid      ExtractionMethod = "hybrid"
	MethodNone        ExtractionMethod = "none"
)

// StructuredFields carries clinical detail extracted alongside the answer.
type StructuredFields struct {
	Duration  string   `json:"duration,omitempty"`
	Severity  string   `json:"severity,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	Triggers  []string `json:"triggers,omitempty"`
	Impact    string   `json:"impact,omitempty"`
}

// Empty reports whether no structured detail was captured.
func (f StructuredFields) Empty() bool {
	return f.Duration == "" && f.Severity == "" && f.Frequency == "" &&
		len(f.Triggers) == 0 && f.Impact == ""
}

// SymptomMention is a single symptom observation surfaced by extraction.
// The ledger merges mentions into per-session Symptom records.
type SymptomMention struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Frequency  string   `json:"frequency,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	Triggers   []string `json:"triggers,omitempty"`
	Context    string   `json:"context,omitempty"`
	Confidence float64  `json:"confidence"`
}

// ProcessedResponse is the extraction pipeline's verdict for one user turn.
// It is created once per turn and never mutated after validation.
type ProcessedResponse struct {
	QuestionID         string           `json:"question_id"`
	Value              any              `json:"value"`
	Structured         StructuredFields `json:"structured"`
	Confidence         float64          `json:"confidence"`
	CriteriaMapping    map[string]bool  `json:"criteria_mapping,omitempty"`
	NeedsClarification bool             `json:"needs_clarification,omitempty"`
	ValidationErrors   []string         `json:"validation_errors,omitempty"`
	RawText            string           `json:"raw_text"`
	Method             ExtractionMethod `json:"method"`
	Symptoms           []SymptomMention `json:"symptoms,omitempty"`
}

// Answered reports whether extraction produced a usable value.
func (r *ProcessedResponse) Answered() bool {
	return r != nil && r.Value != nil
}

// ValueString returns the normalized value as a string, or "" when null.
// Scale answers render without a trailing ".0" so skip-logic comparisons
// against "7" work.
func (r *ProcessedResponse) ValueString() string {
	if r == nil || r.Value == nil {
		return ""
	}
	switch v := r.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	default:
		return ""
	}
}

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UserProfile accumulates per-session answer-quality signals used to pick
// an extraction strategy.
type UserProfile struct {
	ClearAnswers   int `json:"clear_answers"`
	UnclearAnswers int `json:"unclear_answers"`
}

// Reliable reports whether the user's history is consistent enough that
// cheap rule-based extraction can be trusted first for simple inputs.
func (p UserProfile) Reliable() bool {
	total := p.ClearAnswers + p.UnclearAnswers
	if total < 3 {
		return false
	}
	return float64(p.ClearAnswers)/float64(total) >= 0.7
}

// Record updates the profile with one extraction outcome.
func (p *UserProfile) Record(needsClarification bool) {
	if needsClarification {
		p.UnclearAnswers++
	} else {
		p.ClearAnswers++
	}
}
