package interview

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
}

func validModule() ModuleDefinition {
	return ModuleDefinition{
		ID:    "depression",
		Name:  "Depression Screening",
		Group: GroupDiagnostic,
		Questions: []Question{
			{ID: "dep_2", Sequence: 2, Text: "Sleep problems?", Type: ResponseYesNo, Priority: PriorityHigh},
			{ID: "dep_1", Sequence: 1, Text: "Feeling down?", Type: ResponseYesNo, Priority: PriorityHigh, Required: true},
			{ID: "dep_3", Sequence: 3, Text: "How often?", Type: ResponseMultipleChoice,
				Options: []string{"Never", "Sometimes", "Often"}, Priority: PriorityMedium},
		},
		MinQuestions: 2,
		Criteria:     CriteriaSpec{Type: CriteriaSymptomCount, MinimumRequired: 2},
	}
}

func TestModuleValidateAcceptsWellFormedModule(t *testing.T) {
	m := validModule()
	require.NoError(t, m.Validate())
}

func TestModuleValidateRejectsDuplicateIDs(t *testing.T) {
	m := validModule()
	m.Questions[0].ID = "dep_1"
	require.ErrorContains(t, m.Validate(), "duplicate question id")
}

func TestModuleValidateRejectsDuplicateSequences(t *testing.T) {
	m := validModule()
	m.Questions[0].Sequence = 1
	require.ErrorContains(t, m.Validate(), "duplicate sequence")
}

func TestModuleValidateRejectsDanglingSkipTarget(t *testing.T) {
	m := validModule()
	m.Questions[1].SkipLogic = map[string]string{"no": "nowhere"}
	require.ErrorContains(t, m.Validate(), "unknown question")
}

func TestModuleValidateRejectsChoiceWithoutOptions(t *testing.T) {
	m := validModule()
	m.Questions[2].Options = nil
	require.ErrorContains(t, m.Validate(), "at least 2 options")
}

func TestSortedQuestionsOrdersBySequence(t *testing.T) {
	m := validModule()
	sorted := m.SortedQuestions()
	require.Equal(t, []string{"dep_1", "dep_2", "dep_3"},
		[]string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	// Original slice order is untouched.
	require.Equal(t, "dep_2", m.Questions[0].ID)
}

func TestRequiredIDs(t *testing.T) {
	m := validModule()
	require.Equal(t, []string{"dep_1"}, m.RequiredIDs())
}

func TestClampConfidence(t *testing.T) {
	require.Equal(t, 0.0, ClampConfidence(-0.5))
	require.Equal(t, 1.0, ClampConfidence(1.7))
	require.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestUserProfileReliability(t *testing.T) {
	var p UserProfile
	require.False(t, p.Reliable())

	p.Record(false)
	p.Record(false)
	p.Record(false)
	require.True(t, p.Reliable())

	p.Record(true)
	p.Record(true)
	p.Record(true)
	require.False(t, p.Reliable())
}

func TestModuleStateRecordAnswerIsIdempotentPerQuestion(t *testing.T) {
	st := NewModuleState("depression", testTime())
	st.RecordAnswer("dep_1", ProcessedResponse{QuestionID: "dep_1", Value: "yes"})
	st.RecordAnswer("dep_1", ProcessedResponse{QuestionID: "dep_1", Value: "no"})

	require.Equal(t, []string{"dep_1"}, st.AnsweredIDs)
	require.Equal(t, "no", st.Responses["dep_1"].Value)
	require.True(t, st.Answered("dep_1"))
	require.False(t, st.Answered("dep_2"))
}

// Persisted states omit empty maps, so a restored ModuleState arrives with
// nil Responses and Clarifications. Recording must still work.
func TestModuleStateRecordingAfterRestore(t *testing.T) {
	var st ModuleState
	raw := `{"module_id":"depression","started_at":"2025-06-01T10:00:00Z"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	require.Nil(t, st.Clarifications)

	require.Equal(t, 1, st.RecordClarification("dep_1"))
	require.Equal(t, 2, st.RecordClarification("dep_1"))
	st.RecordAnswer("dep_1", ProcessedResponse{QuestionID: "dep_1", Value: "yes"})

	require.Equal(t, []string{"dep_1"}, st.AnsweredIDs)
	require.Equal(t, 2, st.Clarifications["dep_1"])
}

func TestSessionMarkModuleStampsTimeline(t *testing.T) {
	s := &Session{ID: "session-x", State: SessionActive}
	now := testTime()

	s.MarkModule("depression", ModuleInProgress, now)
	entry := s.TimelineFor("depression")
	require.Equal(t, ModuleInProgress, entry.Status)
	require.Equal(t, now, entry.StartedAt)

	later := now.Add(5 * time.Minute)
	s.MarkModule("depression", ModuleCompleted, later)
	entry = s.TimelineFor("depression")
	require.Equal(t, ModuleCompleted, entry.Status)
	require.Equal(t, now, entry.StartedAt)
	require.Equal(t, later, entry.CompletedAt)

	require.Equal(t, ModulePending, s.TimelineFor("anxiety").Status)
}
