package interview

// Resolution is the tri-state outcome of a diagnostic criterion.
type Resolution string

const (
	ResolutionMet     Resolution = "met"
	ResolutionUnmet   Resolution = "unmet"
	ResolutionUnknown Resolution = "unknown"
)

// CriteriaStatus maps criterion ids to their latest resolution. The latest
// response to a question mapped to a criterion wins; earlier resolutions are
// not reconciled retroactively.
type CriteriaStatus map[string]Resolution

// Clone returns an independent copy of the status map.
func (s CriteriaStatus) Clone() CriteriaStatus {
	out := make(CriteriaStatus, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Resolve returns the resolution for a criterion, defaulting to unknown.
func (s CriteriaStatus) Resolve(criterionID string) Resolution {
	if r, ok := s[criterionID]; ok {
		return r
	}
	return ResolutionUnknown
}

// CriteriaSummary aggregates a module's criteria resolution counts.
type CriteriaSummary struct {
	MetCount        int     `json:"met_count"`
	UnmetCount      int     `json:"unmet_count"`
	UnknownCount    int     `json:"unknown_count"`
	MinimumRequired int     `json:"minimum_required"`
	CriteriaMet     bool    `json:"criteria_met"`
	ProgressPct     float64 `json:"progress_pct"`
}
