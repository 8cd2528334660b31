package symptoms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mira/internal/interview"
)

func TestRecordInsertsThenMerges(t *testing.T) {
	l := NewLedger(10, nil)

	l.Record("s1", "depression", "", []interview.SymptomMention{{
		Name:       "Sleep Disturbance",
		Category:   "sleep",
		Severity:   "mild",
		Triggers:   []string{"stress"},
		Context:    "can't fall asleep",
		Confidence: 0.8,
	}})
	l.Record("s1", "depression", "", []interview.SymptomMention{{
		Name:       "sleep disturbance",
		Severity:   "severe",
		Duration:   "three weeks",
		Triggers:   []string{"Stress", "coffee"},
		Context:    "worse lately",
		Confidence: 0.6,
	}})

	entries := l.Entries("s1")
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, "sleep disturbance", e.Name)
	require.Equal(t, "sleep", e.Category)
	require.Equal(t, "severe", e.Severity, "newly provided severity overwrites")
	require.Equal(t, "three weeks", e.Duration)
	require.Equal(t, []string{"stress", "coffee"}, e.Triggers)
	require.Equal(t, []string{"can't fall asleep", "worse lately"}, e.Snippets)
	require.InDelta(t, 0.7, e.Confidence, 1e-9)
	require.Equal(t, 2, e.MentionCount)
	require.False(t, e.FirstSeen.IsZero())
	require.False(t, e.LastSeen.Before(e.FirstSeen))
}

func TestRecordScansRawText(t *testing.T) {
	l := NewLedger(10, nil)

	l.Record("s1", "demographics", "Honestly I just can't sleep at night", nil)

	entries := l.Entries("s1")
	require.Len(t, entries, 1)
	require.Equal(t, "sleep disturbance", entries[0].Name)
	require.Equal(t, "sleep", entries[0].Category)
	require.InDelta(t, 0.6, entries[0].Confidence, 1e-9)
	require.NotEmpty(t, entries[0].Snippets)
}

func TestRecordPrefersPipelineMentions(t *testing.T) {
	l := NewLedger(10, nil)

	// The raw text would also match the keyword scan; the pipeline's richer
	// mention must win and count once.
	l.Record("s1", "depression", "I can't sleep", []interview.SymptomMention{{
		Name:       "sleep disturbance",
		Severity:   "severe",
		Context:    "can't sleep, maybe two hours a night",
		Confidence: 0.9,
	}})

	entries := l.Entries("s1")
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, 1, e.MentionCount)
	require.Equal(t, "severe", e.Severity)
	require.InDelta(t, 0.9, e.Confidence, 1e-9)
	require.Equal(t, []string{"can't sleep, maybe two hours a night"}, e.Snippets)
}

func TestSnippetsKeepMostRecent(t *testing.T) {
	l := NewLedger(3, nil)

	for i := 1; i <= 5; i++ {
		l.Record("s1", "m", "", []interview.SymptomMention{{
			Name:       "fatigue",
			Context:    fmt.Sprintf("snippet %d", i),
			Confidence: 0.5,
		}})
	}

	entries := l.Entries("s1")
	require.Len(t, entries, 1)
	require.Equal(t, []string{"snippet 3", "snippet 4", "snippet 5"}, entries[0].Snippets)
	require.Equal(t, 5, entries[0].MentionCount)
}

func TestEntriesSortedByMentionCount(t *testing.T) {
	l := NewLedger(10, nil)

	l.Record("s1", "m", "", []interview.SymptomMention{{Name: "fatigue", Confidence: 0.5}})
	l.Record("s1", "m", "", []interview.SymptomMention{{Name: "anxiety", Confidence: 0.5}})
	l.Record("s1", "m", "", []interview.SymptomMention{{Name: "anxiety", Confidence: 0.5}})

	entries := l.Entries("s1")
	require.Len(t, entries, 2)
	require.Equal(t, "anxiety", entries[0].Name)
	require.Equal(t, "fatigue", entries[1].Name)
}

func TestEntriesReturnsCopies(t *testing.T) {
	l := NewLedger(10, nil)
	l.Record("s1", "m", "", []interview.SymptomMention{{
		Name:       "fatigue",
		Triggers:   []string{"work"},
		Context:    "tired all day",
		Confidence: 0.5,
	}})

	entries := l.Entries("s1")
	entries[0].Triggers[0] = "mutated"
	entries[0].Snippets[0] = "mutated"

	fresh := l.Entries("s1")
	require.Equal(t, []string{"work"}, fresh[0].Triggers)
	require.Equal(t, []string{"tired all day"}, fresh[0].Snippets)
}

func TestSessionsIsolatedAndReleased(t *testing.T) {
	l := NewLedger(10, nil)
	l.Record("s1", "m", "", []interview.SymptomMention{{Name: "fatigue", Confidence: 0.5}})
	l.Record("s2", "m", "", []interview.SymptomMention{{Name: "anxiety", Confidence: 0.5}})

	require.Equal(t, 1, l.Count("s1"))
	require.Equal(t, 1, l.Count("s2"))
	require.Equal(t, "anxiety", l.Entries("s2")[0].Name)

	l.Release("s1")
	require.Zero(t, l.Count("s1"))
	require.Nil(t, l.Entries("s1"))
	require.Equal(t, 1, l.Count("s2"))
}

func TestRecordEmptySessionIgnored(t *testing.T) {
	l := NewLedger(10, nil)
	l.Record("", "m", "feeling anxious", nil)
	require.Zero(t, l.Count(""))
}

func TestRecordConcurrent(t *testing.T) {
	l := NewLedger(10, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Record("s1", "m", "feeling anxious and tired", nil)
			}
		}()
	}
	wg.Wait()

	entries := l.Entries("s1")
	require.Len(t, entries, 2)
	require.Equal(t, "anxiety", entries[0].Name)
	require.Equal(t, "fatigue", entries[1].Name)
	require.Equal(t, 200, entries[0].MentionCount)
	require.Equal(t, 200, entries[1].MentionCount)
	require.LessOrEqual(t, len(entries[0].Snippets), 10)
}
