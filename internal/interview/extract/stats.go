package extract

import (
	"sync"

	"mira/internal/interview"
)

// MethodStats accumulates outcomes for one extraction method on one question
// type.
type MethodStats struct {
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	SumConfidence float64 `json:"sum_confidence"`
}

// SuccessRate returns successes per attempt, zero when unused.
func (m MethodStats) SuccessRate() float64 {
	if m.Attempts == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Attempts)
}

// AvgConfidence averages confidence over successful extractions.
func (m MethodStats) AvgConfidence() float64 {
	if m.Successes == 0 {
		return 0
	}
	return m.SumConfidence / float64(m.Successes)
}

// StrategyStats tracks per question type which extraction methods succeed.
// The pipeline records every attempt; recording never fails and never blocks
// extraction.
type StrategyStats struct {
	mu    sync.Mutex
	table map[interview.ResponseType]map[interview.ExtractionMethod]*MethodStats
}

func NewStrategyStats() *StrategyStats {
	return &StrategyStats{
		table: make(map[interview.ResponseType]map[interview.ExtractionMethod]*MethodStats),
	}
}

// RecordOutcome notes one extraction attempt.
func (s *StrategyStats) RecordOutcome(qt interview.ResponseType, method interview.ExtractionMethod, success bool, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMethod, ok := s.table[qt]
	if !ok {
		byMethod = make(map[interview.ExtractionMethod]*MethodStats)
		s.table[qt] = byMethod
	}
	ms, ok := byMethod[method]
	if !ok {
		ms = &MethodStats{}
		byMethod[method] = ms
	}

	ms.Attempts++
	if success {
		ms.Successes++
		ms.SumConfidence += confidence
	}
}

// Snapshot returns a copy of the table for reporting.
func (s *StrategyStats) Snapshot() map[interview.ResponseType]map[interview.ExtractionMethod]MethodStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[interview.ResponseType]map[interview.ExtractionMethod]MethodStats, len(s.table))
	for qt, byMethod := range s.table {
		dst := make(map[interview.ExtractionMethod]MethodStats, len(byMethod))
		for method, ms := range byMethod {
			dst[method] = *ms
		}
		out[qt] = dst
	}
	return out
}
