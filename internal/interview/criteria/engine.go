// Package criteria implements the pure functions that resolve diagnostic
// criteria from processed responses. All functions are side-effect free over
// a caller-held status map and never panic; malformed input yields a
// conservative "continue, not yet met" outcome.
package criteria

import (
	"fmt"

	"mira/internal/interview"
)

// Update merges a processed response's criteria mapping into status and
// returns the new map. Last write wins per criterion; earlier resolutions
// are not reconciled retroactively. When the response carries no explicit
// mapping, a definite yes/no answer to a criterion-linked question resolves
// that criterion directly.
func Update(status interview.CriteriaStatus, questionID string, processed *interview.ProcessedResponse, module *interview.ModuleDefinition) interview.CriteriaStatus {
	out := status.Clone()
	if processed == nil {
		return out
	}

	mapping := processed.CriteriaMapping
	if len(mapping) == 0 {
		mapping = deriveMapping(questionID, processed, module)
	}

	for id, met := range mapping {
		if id == "" {
			continue
		}
		if met {
			out[id] = interview.ResolutionMet
		} else {
			out[id] = interview.ResolutionUnmet
		}
	}
	return out
}

// deriveMapping resolves the question's own criterion from a definite
// yes/no value when the extraction did not map criteria itself.
func deriveMapping(questionID string, processed *interview.ProcessedResponse, module *interview.ModuleDefinition) map[string]bool {
	if module == nil {
		return nil
	}
	q, ok := module.Question(questionID)
	if !ok || q.CriterionID == "" {
		return nil
	}

	switch v := processed.Value.(type) {
	case bool:
		return map[string]bool{q.CriterionID: v}
	case string:
		switch v {
		case "yes":
			return map[string]bool{q.CriterionID: true}
		case "no":
			return map[string]bool{q.CriterionID: false}
		}
	}
	return nil
}

// Summary aggregates resolution counts against the module's criteria set.
// The module's criteria set is the distinct criterion ids referenced by its
// questions; criteria absent from status count as unknown.
func Summary(status interview.CriteriaStatus, module *interview.ModuleDefinition) interview.CriteriaSummary {
	var s interview.CriteriaSummary
	if module != nil {
		s.MinimumRequired = module.Criteria.MinimumRequired
	}

	for _, r := range status {
		switch r {
		case interview.ResolutionMet:
			s.MetCount++
		case interview.ResolutionUnmet:
			s.UnmetCount++
		}
	}

	total := 0
	if module != nil {
		seen := make(map[string]bool)
		for _, q := range module.Questions {
			if q.CriterionID == "" || seen[q.CriterionID] {
				continue
			}
			seen[q.CriterionID] = true
			total++
			if status.Resolve(q.CriterionID) == interview.ResolutionUnknown {
				s.UnknownCount++
			}
		}
	}

	s.CriteriaMet = s.MetCount >= s.MinimumRequired
	if total > 0 {
		s.ProgressPct = float64(total-s.UnknownCount) / float64(total) * 100
	}
	return s
}

// CanStopEarly reports whether the module can stop asking questions because
// enough criteria already resolved. Only the symptom_count criteria type
// supports early stop; sequential, hybrid and cluster are accepted as
// configuration but always continue for now.
func CanStopEarly(status interview.CriteriaStatus, module *interview.ModuleDefinition) (bool, string) {
	met, min, eligible := thresholdState(status, module)
	if !eligible {
		return false, "continue"
	}
	if met >= min {
		return true, fmt.Sprintf("criteria threshold reached (%d/%d met)", met, min)
	}
	return false, fmt.Sprintf("continue (%d/%d criteria met)", met, min)
}

// DiagnosisPossible applies the same threshold test as CanStopEarly under a
// distinct name, so stop-asking and stop-diagnosing policy can diverge later.
func DiagnosisPossible(status interview.CriteriaStatus, module *interview.ModuleDefinition) (bool, string) {
	met, min, eligible := thresholdState(status, module)
	if !eligible {
		return false, "not enough information"
	}
	if met >= min {
		return true, fmt.Sprintf("criteria threshold reached (%d/%d met)", met, min)
	}
	return false, fmt.Sprintf("insufficient criteria (%d/%d met)", met, min)
}

// thresholdState reports the met count against the module minimum and
// whether the module's criteria type participates in threshold tests at all.
func thresholdState(status interview.CriteriaStatus, module *interview.ModuleDefinition) (met, min int, eligible bool) {
	if module == nil || module.Criteria.Type != interview.CriteriaSymptomCount {
		return 0, 0, false
	}
	min = module.Criteria.MinimumRequired
	if min <= 0 {
		return 0, 0, false
	}
	for _, r := range status {
		if r == interview.ResolutionMet {
			met++
		}
	}
	return met, min, true
}
