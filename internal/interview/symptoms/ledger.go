// Package symptoms maintains the session-wide symptom ledger. Every user
// turn feeds it, whichever module is active; records merge on repeat
// mentions and are never deleted within a session.
package symptoms

import (
	"sort"
	"strings"
	"sync"
	"time"

	"mira/internal/interview"
	"mira/internal/interview/extract"
	"mira/internal/logging"
)

const defaultSnippetLimit = 10

// Ledger is the shared symptom table, keyed by session id. It is safe for
// concurrent use from many sessions.
type Ledger struct {
	mu       sync.RWMutex
	limit    int
	logger   logging.Logger
	sessions map[string]map[string]*interview.Symptom
}

// NewLedger creates a ledger that keeps at most snippetLimit context
// snippets per symptom.
func NewLedger(snippetLimit int, logger logging.Logger) *Ledger {
	if snippetLimit <= 0 {
		snippetLimit = defaultSnippetLimit
	}
	return &Ledger{
		limit:    snippetLimit,
		logger:   logging.OrNop(logger),
		sessions: make(map[string]map[string]*interview.Symptom),
	}
}

// Record runs the keyword scan over the raw turn text, merges in any
// mentions the extraction pipeline already produced (those win on conflict),
// and upserts each observation into the session's table. Record never fails
// and never panics; this is a background concern that must not affect the
// primary turn.
func (l *Ledger) Record(sessionID, moduleID, rawText string, mentions []interview.SymptomMention) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Warn("symptom ledger recovered from %v (session %s)", rec, sessionID)
		}
	}()
	if sessionID == "" {
		return
	}

	observed := dedupMentions(mentions, extract.ScanSymptoms(rawText))
	if len(observed) == 0 {
		return
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	records, ok := l.sessions[sessionID]
	if !ok {
		records = make(map[string]*interview.Symptom)
		l.sessions[sessionID] = records
	}
	for _, m := range observed {
		l.upsert(records, m, now)
	}
	l.logger.Debug("ledger recorded %d symptom(s) for session %s (module %s)",
		len(observed), sessionID, moduleID)
}

// Entries returns the session's symptoms sorted by mention count descending,
// name ascending. The returned records are copies.
func (l *Ledger) Entries(sessionID string) []interview.Symptom {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.sessions[sessionID]
	if len(records) == 0 {
		return nil
	}
	out := make([]interview.Symptom, 0, len(records))
	for _, rec := range records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Count returns the number of distinct symptoms recorded for a session.
func (l *Ledger) Count(sessionID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions[sessionID])
}

// Release drops a session's records once the session is archived.
func (l *Ledger) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// --- internal helpers ---

// upsert inserts a new record or merges the mention into an existing one:
// trigger set union, severity/frequency/duration overwritten only when newly
// provided, snippets bounded to the most recent, confidence kept as a
// running average over all mentions.
func (l *Ledger) upsert(records map[string]*interview.Symptom, m interview.SymptomMention, now time.Time) {
	name := normalizeName(m.Name)
	if name == "" {
		return
	}

	rec, ok := records[name]
	if !ok {
		rec = &interview.Symptom{
			Name:         name,
			Category:     m.Category,
			Severity:     m.Severity,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Triggers:     mergeStrings(nil, m.Triggers),
			Confidence:   interview.ClampConfidence(m.Confidence),
			MentionCount: 1,
			FirstSeen:    now,
			LastSeen:     now,
		}
		if m.Context != "" {
			rec.Snippets = []string{m.Context}
		}
		records[name] = rec
		return
	}

	if m.Category != "" && rec.Category == "" {
		rec.Category = m.Category
	}
	if m.Severity != "" {
		rec.Severity = m.Severity
	}
	if m.Frequency != "" {
		rec.Frequency = m.Frequency
	}
	if m.Duration != "" {
		rec.Duration = m.Duration
	}
	rec.Triggers = mergeStrings(rec.Triggers, m.Triggers)
	if m.Context != "" {
		rec.Snippets = append(rec.Snippets, m.Context)
		if len(rec.Snippets) > l.limit {
			rec.Snippets = rec.Snippets[len(rec.Snippets)-l.limit:]
		}
	}
	rec.Confidence = interview.ClampConfidence(
		(rec.Confidence*float64(rec.MentionCount) + m.Confidence) / float64(rec.MentionCount+1))
	rec.MentionCount++
	rec.LastSeen = now
}

// dedupMentions combines pipeline-provided mentions with the local keyword
// scan, one observation per normalized name. Provided mentions win.
func dedupMentions(provided, scanned []interview.SymptomMention) []interview.SymptomMention {
	seen := make(map[string]bool, len(provided)+len(scanned))
	out := make([]interview.SymptomMention, 0, len(provided)+len(scanned))
	for _, group := range [][]interview.SymptomMention{provided, scanned} {
		for _, m := range group {
			name := normalizeName(m.Name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, m)
		}
	}
	return out
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

// mergeStrings appends new unique items from additions into base,
// case-insensitively, preserving first-seen order.
func mergeStrings(base, additions []string) []string {
	if len(additions) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	merged := make([]string, len(base), len(base)+len(additions))
	copy(merged, base)
	for _, s := range additions {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, strings.TrimSpace(s))
	}
	return merged
}

func copyRecord(rec *interview.Symptom) interview.Symptom {
	out := *rec
	if len(rec.Triggers) > 0 {
		out.Triggers = append([]string(nil), rec.Triggers...)
	}
	if len(rec.Snippets) > 0 {
		out.Snippets = append([]string(nil), rec.Snippets...)
	}
	return out
}
