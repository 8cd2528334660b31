package interview

import "time"

// Symptom is one ledger record: a normalized symptom accumulated across the
// whole session, independent of which module was active when mentioned.
// Records are merged on repeat mentions and never deleted within a session.
type Symptom struct {
	Name         string    `json:"name"`
	Category     string    `json:"category,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Frequency    string    `json:"frequency,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	Triggers     []string  `json:"triggers,omitempty"`
	Confidence   float64   `json:"confidence"`
	MentionCount int       `json:"mention_count"`
	Snippets     []string  `json:"snippets,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}
