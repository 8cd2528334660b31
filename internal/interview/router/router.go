// Package router decides which question an active module asks next. Routing
// is a pure function of the module definition and the session's answers so
// far; the router holds no per-session state and is safe for concurrent use.
package router

import (
	"sort"
	"strings"

	"mira/internal/interview"
	"mira/internal/logging"
)

// Input carries everything one routing decision looks at. Current and
// Processed are nil on module entry.
type Input struct {
	Current        *interview.Question
	Processed      *interview.ProcessedResponse
	Module         *interview.ModuleDefinition
	Answered       map[string]bool
	CriteriaStatus interview.CriteriaStatus
	Responses      map[string]*interview.ProcessedResponse
}

type Router struct {
	logger logging.Logger
}

func New(logger logging.Logger) *Router {
	return &Router{logger: logging.OrNop(logger)}
}

// Next returns the next question to ask, or nil when the module has nothing
// left worth asking. Precedence: skip-logic jump, follow-up expansion,
// priority scan. Next never panics; an internal failure degrades to strict
// sequence order.
func (r *Router) Next(in Input) (next *interview.Question) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router recovered from %v, degrading to sequence order", rec)
			next = firstUnanswered(in.Module, in.Answered)
		}
	}()

	if in.Module == nil {
		return nil
	}

	if q := r.skipTarget(in); q != nil {
		return q
	}
	if q := r.followUp(in); q != nil {
		return q
	}
	return r.priorityScan(in)
}

// skipTarget resolves the answered question's skip-logic table against the
// extracted value. Patterns match case-insensitively as substrings in either
// direction.
func (r *Router) skipTarget(in Input) *interview.Question {
	cur, resp := in.Current, in.Processed
	if cur == nil || resp == nil || len(cur.SkipLogic) == 0 {
		return nil
	}
	val := strings.ToLower(strings.TrimSpace(resp.ValueString()))
	if val == "" {
		return nil
	}

	// Iterate patterns in sorted order so overlapping tables route the same
	// way every turn.
	patterns := make([]string, 0, len(cur.SkipLogic))
	for k := range cur.SkipLogic {
		patterns = append(patterns, k)
	}
	sort.Strings(patterns)

	for _, key := range patterns {
		pattern := strings.ToLower(strings.TrimSpace(key))
		if pattern == "" {
			continue
		}
		if !strings.Contains(val, pattern) && !strings.Contains(pattern, val) {
			continue
		}
		target := cur.SkipLogic[key]
		if in.Answered[target] {
			continue
		}
		if q, ok := in.Module.Question(target); ok {
			r.logger.Debug("skip-logic on %s: value %q jumps to %s", cur.ID, val, target)
			return q
		}
	}
	return nil
}

// followUp returns the first unanswered follow-up of the current question
// when the response reads as affirmative.
func (r *Router) followUp(in Input) *interview.Question {
	cur, resp := in.Current, in.Processed
	if cur == nil || resp == nil || len(cur.FollowUps) == 0 {
		return nil
	}
	if !isAffirmative(resp) {
		return nil
	}
	for _, id := range cur.FollowUps {
		if in.Answered[id] {
			continue
		}
		if q, ok := in.Module.Question(id); ok {
			return q
		}
	}
	return nil
}

var affirmativeValues = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "true": true,
	"definitely": true, "absolutely": true,
}

var positiveSignals = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
	"definitely": true, "absolutely": true,
}

var negativeSignals = map[string]bool{
	"no": true, "not": true, "never": true, "nope": true, "none": true,
	"nah": true, "dont": true, "didnt": true, "doesnt": true, "havent": true,
	"hasnt": true, "isnt": true, "wasnt": true, "cant": true, "wont": true,
}

// isAffirmative judges whether a response opens the question's follow-up
// branch: a clean affirmative value, or positive keywords with no negative
// ones anywhere in the raw reply.
func isAffirmative(resp *interview.ProcessedResponse) bool {
	if affirmativeValues[strings.ToLower(strings.TrimSpace(resp.ValueString()))] {
		return true
	}

	raw := strings.ToLower(resp.RawText)
	raw = strings.ReplaceAll(raw, "’", "")
	raw = strings.ReplaceAll(raw, "'", "")
	hasPositive, hasNegative := false, false
	for _, tok := range strings.Fields(raw) {
		tok = strings.Trim(tok, ".,!?;:\"")
		if positiveSignals[tok] {
			hasPositive = true
		}
		if negativeSignals[tok] {
			hasNegative = true
		}
	}
	return hasPositive && !hasNegative
}

// priorityScan walks unanswered questions ordered by (priority, sequence)
// applying the should-ask filter. Safety questions are always asked. A nil
// return means nothing left is worth asking and the module is complete.
func (r *Router) priorityScan(in Input) *interview.Question {
	sorted := in.Module.SortedQuestions()
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})

	metCount := 0
	for _, res := range in.CriteriaStatus {
		if res == interview.ResolutionMet {
			metCount++
		}
	}
	safetyLow := safetyResolvedLow(in)
	parents := followUpParents(in.Module)

	for i := range sorted {
		q := &sorted[i]
		if in.Answered[q.ID] {
			continue
		}
		if q.Priority == interview.PrioritySafety {
			return q
		}
		if r.shouldSkip(q, in, metCount, safetyLow, parents) {
			continue
		}
		return q
	}
	return nil
}

func (r *Router) shouldSkip(q *interview.Question, in Input, metCount int, safetyLow bool, parents map[string][]string) bool {
	if q.Required {
		return false
	}
	// A follow-up only surfaces once a parent answered affirmatively.
	if ids := parents[q.ID]; len(ids) > 0 && !anyParentAffirmative(in, ids) {
		return true
	}
	// An optional question whose criterion already resolved true adds
	// nothing once the module is past its minimum.
	if q.CriterionID != "" &&
		in.CriteriaStatus.Resolve(q.CriterionID) == interview.ResolutionMet &&
		metCount > in.Module.Criteria.MinimumRequired {
		r.logger.Debug("skipping %s: criterion %s already met (%d met)", q.ID, q.CriterionID, metCount)
		return true
	}
	// Once every critical safety question resolved low-risk, the remaining
	// optional safety-adjacent ones are noise.
	if safetyLow && in.Module.Group == interview.GroupSafety && q.Priority > interview.PrioritySafety {
		r.logger.Debug("skipping %s: critical safety questions resolved low-risk", q.ID)
		return true
	}
	return false
}

// followUpParents maps each follow-up target to the questions that list it.
func followUpParents(m *interview.ModuleDefinition) map[string][]string {
	var parents map[string][]string
	for i := range m.Questions {
		q := &m.Questions[i]
		for _, child := range q.FollowUps {
			if parents == nil {
				parents = make(map[string][]string)
			}
			parents[child] = append(parents[child], q.ID)
		}
	}
	return parents
}

func anyParentAffirmative(in Input, parentIDs []string) bool {
	for _, id := range parentIDs {
		if !in.Answered[id] {
			continue
		}
		if resp, ok := in.Responses[id]; ok && resp != nil && isAffirmative(resp) {
			return true
		}
	}
	return false
}

// safetyResolvedLow reports whether every safety-priority question in the
// module is answered and none of them resolved toward risk.
func safetyResolvedLow(in Input) bool {
	found := false
	for i := range in.Module.Questions {
		q := &in.Module.Questions[i]
		if q.Priority != interview.PrioritySafety {
			continue
		}
		found = true
		if !in.Answered[q.ID] {
			return false
		}
		if q.CriterionID != "" && in.CriteriaStatus.Resolve(q.CriterionID) == interview.ResolutionMet {
			return false
		}
		if resp, ok := in.Responses[q.ID]; ok && resp != nil && resp.ValueString() == "yes" {
			return false
		}
	}
	return found
}

// firstUnanswered is the strict sequence-order fallback.
func firstUnanswered(m *interview.ModuleDefinition, answered map[string]bool) *interview.Question {
	if m == nil {
		return nil
	}
	sorted := m.SortedQuestions()
	for i := range sorted {
		if !answered[sorted[i].ID] {
			return &sorted[i]
		}
	}
	return nil
}
