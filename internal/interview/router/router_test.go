package router

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"mira/internal/interview"
)

func riskModule() *interview.ModuleDefinition {
	return &interview.ModuleDefinition{
		ID:    "risk_assessment",
		Name:  "Risk Assessment",
		Group: interview.GroupSafety,
		Criteria: interview.CriteriaSpec{
			Type:            interview.CriteriaSymptomCount,
			MinimumRequired: 1,
		},
		Questions: []interview.Question{
			{
				ID: "risk_1", Sequence: 1, Priority: interview.PrioritySafety,
				Text: "Have you had thoughts of harming yourself?",
				Type: interview.ResponseYesNo, CriterionID: "suicidal_ideation",
				Required: true, FollowUps: []string{"risk_1a", "risk_1b"},
			},
			{
				ID: "risk_1a", Sequence: 2, Priority: interview.PriorityHigh,
				Text: "What do those thoughts look like?",
				Type: interview.ResponseFreeText,
			},
			{
				ID: "risk_1b", Sequence: 3, Priority: interview.PriorityHigh,
				Text: "Have you thought about how you would do it?",
				Type: interview.ResponseYesNo,
			},
			{
				ID: "risk_2", Sequence: 4, Priority: interview.PrioritySafety,
				Text: "Do you feel unsafe at home?",
				Type: interview.ResponseYesNo, CriterionID: "unsafe_environment",
				Required:  true,
				SkipLogic: map[string]string{"no": "risk_4"},
			},
			{
				ID: "risk_3", Sequence: 5, Priority: interview.PriorityMedium,
				Text: "What makes home feel unsafe?",
				Type: interview.ResponseFreeText,
			},
			{
				ID: "risk_4", Sequence: 6, Priority: interview.PriorityLow,
				Text: "Is there anything else about your safety you want to share?",
				Type: interview.ResponseFreeText,
			},
		},
	}
}

func moodModule() *interview.ModuleDefinition {
	return &interview.ModuleDefinition{
		ID:    "depression",
		Group: interview.GroupDiagnostic,
		Criteria: interview.CriteriaSpec{
			Type:            interview.CriteriaSymptomCount,
			MinimumRequired: 2,
		},
		Questions: []interview.Question{
			{ID: "dep_1", Sequence: 1, Priority: interview.PriorityHigh,
				Type: interview.ResponseYesNo, CriterionID: "depressed_mood", Required: true},
			{ID: "dep_2", Sequence: 2, Priority: interview.PriorityHigh,
				Type: interview.ResponseYesNo, CriterionID: "anhedonia"},
			{ID: "dep_3", Sequence: 3, Priority: interview.PriorityMedium,
				Type: interview.ResponseYesNo, CriterionID: "sleep_disturbance"},
		},
	}
}

func response(qID string, value any, raw string) *interview.ProcessedResponse {
	return &interview.ProcessedResponse{
		QuestionID: qID,
		Value:      value,
		Confidence: 0.9,
		RawText:    raw,
		Method:     interview.MethodRuleBased,
	}
}

func TestNextModuleEntrySafetyFirst(t *testing.T) {
	m := &interview.ModuleDefinition{
		ID:    "anxiety",
		Group: interview.GroupDiagnostic,
		Questions: []interview.Question{
			{ID: "anx_1", Sequence: 1, Priority: interview.PriorityMedium, Type: interview.ResponseYesNo},
			{ID: "anx_2", Sequence: 2, Priority: interview.PrioritySafety, Type: interview.ResponseYesNo, Required: true},
		},
	}

	q := New(nil).Next(Input{Module: m, Answered: map[string]bool{}})
	require.NotNil(t, q)
	require.Equal(t, "anx_2", q.ID, "safety priority outranks sequence order")
}

func TestNextFollowUpOnAffirmative(t *testing.T) {
	m := riskModule()
	cur, ok := m.Question("risk_1")
	require.True(t, ok)

	q := New(nil).Next(Input{
		Current:   cur,
		Processed: response("risk_1", "yes", "yes, lately"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_1a", q.ID)
}

func TestNextFollowUpSkipsAnswered(t *testing.T) {
	m := riskModule()
	cur, ok := m.Question("risk_1")
	require.True(t, ok)

	q := New(nil).Next(Input{
		Current:   cur,
		Processed: response("risk_1", "yes", "yes"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true, "risk_1a": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_1b", q.ID)
}

func TestNextFollowUpHeuristicOnRawText(t *testing.T) {
	m := riskModule()
	cur, ok := m.Question("risk_1")
	require.True(t, ok)
	r := New(nil)

	// A qualified value still opens the branch when the raw reply reads
	// positive with no negations.
	q := r.Next(Input{
		Current:   cur,
		Processed: response("risk_1", "sometimes", "yeah, sometimes at night"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_1a", q.ID)

	// A negation anywhere in the reply closes it.
	q = r.Next(Input{
		Current:   cur,
		Processed: response("risk_1", "no", "yeah no, I don't get those"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_2", q.ID, "negative reply falls through to the priority scan")
}

func TestNextSkipLogicJumps(t *testing.T) {
	m := riskModule()
	cur, ok := m.Question("risk_2")
	require.True(t, ok)

	q := New(nil).Next(Input{
		Current:   cur,
		Processed: response("risk_2", "no", "no, home is fine"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true, "risk_1a": true, "risk_1b": true, "risk_2": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_4", q.ID, "skip-logic jumps over risk_3")
}

func TestNextSkipLogicSubstringMatch(t *testing.T) {
	m := &interview.ModuleDefinition{
		ID:    "demographics",
		Group: interview.GroupIntake,
		Questions: []interview.Question{
			{ID: "demo_1", Sequence: 1, Priority: interview.PriorityMedium,
				Type:    interview.ResponseMultipleChoice,
				Options: []string{"Employed", "Unemployed", "Retired"},
				SkipLogic: map[string]string{
					"unemployed": "demo_3",
				}},
			{ID: "demo_2", Sequence: 2, Priority: interview.PriorityMedium, Type: interview.ResponseFreeText},
			{ID: "demo_3", Sequence: 3, Priority: interview.PriorityMedium, Type: interview.ResponseFreeText},
		},
	}
	cur, ok := m.Question("demo_1")
	require.True(t, ok)

	q := New(nil).Next(Input{
		Current:   cur,
		Processed: response("demo_1", "Unemployed", "unemployed right now"),
		Module:    m,
		Answered:  map[string]bool{"demo_1": true},
	})
	require.NotNil(t, q)
	require.Equal(t, "demo_3", q.ID, "patterns match case-insensitively")
}

func TestNextSkipLogicIgnoresAnsweredTarget(t *testing.T) {
	m := riskModule()
	cur, ok := m.Question("risk_2")
	require.True(t, ok)

	q := New(nil).Next(Input{
		Current:   cur,
		Processed: response("risk_2", "no", "no"),
		Module:    m,
		Answered:  map[string]bool{"risk_1": true, "risk_2": true, "risk_4": true},
		Responses: map[string]*interview.ProcessedResponse{
			"risk_1": response("risk_1", "yes", "yes"),
		},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_1a", q.ID, "answered jump target falls through to the scan")
}

func TestNextSafetyShortCircuit(t *testing.T) {
	m := riskModule()

	q := New(nil).Next(Input{
		Module:   m,
		Answered: map[string]bool{"risk_1": true, "risk_2": true},
		CriteriaStatus: interview.CriteriaStatus{
			"suicidal_ideation":  interview.ResolutionUnmet,
			"unsafe_environment": interview.ResolutionUnmet,
		},
		Responses: map[string]*interview.ProcessedResponse{
			"risk_1": response("risk_1", "no", "no, never"),
			"risk_2": response("risk_2", "no", "no"),
		},
	})
	require.Nil(t, q, "low-risk answers on every critical question finish the module")
}

func TestNextSafetyShortCircuitBlockedByRisk(t *testing.T) {
	m := riskModule()

	q := New(nil).Next(Input{
		Module:   m,
		Answered: map[string]bool{"risk_1": true, "risk_2": true},
		CriteriaStatus: interview.CriteriaStatus{
			"suicidal_ideation":  interview.ResolutionMet,
			"unsafe_environment": interview.ResolutionUnmet,
		},
		Responses: map[string]*interview.ProcessedResponse{
			"risk_1": response("risk_1", "yes", "yes"),
			"risk_2": response("risk_2", "no", "no"),
		},
	})
	require.NotNil(t, q)
	require.Equal(t, "risk_1a", q.ID, "any met safety criterion keeps the optional questions in play")
}

func TestNextFollowUpChildGatedInScan(t *testing.T) {
	m := &interview.ModuleDefinition{
		ID:    "history",
		Group: interview.GroupIntake,
		Questions: []interview.Question{
			{ID: "his_1", Sequence: 1, Priority: interview.PriorityMedium,
				Type: interview.ResponseYesNo, FollowUps: []string{"his_1a"}},
			{ID: "his_1a", Sequence: 2, Priority: interview.PriorityMedium, Type: interview.ResponseFreeText},
			{ID: "his_2", Sequence: 3, Priority: interview.PriorityMedium, Type: interview.ResponseFreeText},
		},
	}
	r := New(nil)

	// Parent answered no: the follow-up never resurfaces, even from the scan.
	in := Input{
		Module:   m,
		Answered: map[string]bool{"his_1": true},
		Responses: map[string]*interview.ProcessedResponse{
			"his_1": response("his_1", "no", "no"),
		},
	}
	q := r.Next(in)
	require.NotNil(t, q)
	require.Equal(t, "his_2", q.ID)

	in.Answered["his_2"] = true
	require.Nil(t, r.Next(in), "declined follow-up does not block completion")

	// Parent answered yes but the branch was interrupted: the scan picks the
	// follow-up back up.
	q = r.Next(Input{
		Module:   m,
		Answered: map[string]bool{"his_1": true, "his_2": true},
		Responses: map[string]*interview.ProcessedResponse{
			"his_1": response("his_1", "yes", "yes"),
		},
	})
	require.NotNil(t, q)
	require.Equal(t, "his_1a", q.ID)
}

func TestNextCriterionResolvedSkip(t *testing.T) {
	m := moodModule()
	r := New(nil)

	q := r.Next(Input{
		Module:   m,
		Answered: map[string]bool{"dep_1": true},
		CriteriaStatus: interview.CriteriaStatus{
			"depressed_mood":    interview.ResolutionMet,
			"anhedonia":         interview.ResolutionMet,
			"sleep_disturbance": interview.ResolutionMet,
		},
	})
	require.Nil(t, q, "optional questions with settled criteria add nothing past the minimum")

	// At the minimum, but not past it, the questions still get asked.
	q = r.Next(Input{
		Module:   m,
		Answered: map[string]bool{"dep_1": true},
		CriteriaStatus: interview.CriteriaStatus{
			"depressed_mood": interview.ResolutionMet,
			"anhedonia":      interview.ResolutionMet,
		},
	})
	require.NotNil(t, q)
	require.Equal(t, "dep_2", q.ID)
}

func TestNextRequiredNeverSkipped(t *testing.T) {
	m := moodModule()

	q := New(nil).Next(Input{
		Module:   m,
		Answered: map[string]bool{},
		CriteriaStatus: interview.CriteriaStatus{
			"depressed_mood":    interview.ResolutionMet,
			"anhedonia":         interview.ResolutionMet,
			"sleep_disturbance": interview.ResolutionMet,
		},
	})
	require.NotNil(t, q)
	require.Equal(t, "dep_1", q.ID, "required questions are asked regardless of criteria state")
}

func TestNextToleratesNilMaps(t *testing.T) {
	m := riskModule()

	require.NotPanics(t, func() {
		q := New(nil).Next(Input{Module: m})
		require.NotNil(t, q)
		require.Equal(t, "risk_1", q.ID)
	})
}

func TestNextNilModule(t *testing.T) {
	require.Nil(t, New(nil).Next(Input{}))
}

// replayWith runs a whole module through the router, answering each question
// via answer, checking that no question repeats and the walk terminates.
func replayWith(t *testing.T, m *interview.ModuleDefinition, answer func(*interview.Question) (any, string)) []string {
	t.Helper()
	r := New(nil)

	answered := map[string]bool{}
	responses := map[string]*interview.ProcessedResponse{}
	var (
		asked []string
		cur   *interview.Question
		last  *interview.ProcessedResponse
	)
	for i := 0; i <= len(m.Questions); i++ {
		q := r.Next(Input{
			Current:   cur,
			Processed: last,
			Module:    m,
			Answered:  answered,
			Responses: responses,
		})
		if q == nil {
			return asked
		}
		require.False(t, answered[q.ID], "router repeated question %s", q.ID)
		asked = append(asked, q.ID)
		answered[q.ID] = true
		value, raw := answer(q)
		resp := response(q.ID, value, raw)
		responses[q.ID] = resp
		cur, last = q, resp
	}
	t.Fatalf("router did not terminate; asked %v", asked)
	return nil
}

func replay(t *testing.T, m *interview.ModuleDefinition, value, raw string) []string {
	t.Helper()
	return replayWith(t, m, func(*interview.Question) (any, string) {
		return value, raw
	})
}

func TestReplayAffirmativeCoversEveryQuestion(t *testing.T) {
	asked := replay(t, riskModule(), "yes", "yes")
	require.Equal(t, []string{"risk_1", "risk_1a", "risk_2", "risk_1b", "risk_3", "risk_4"}, asked)
}

func TestReplayNegativeTakesShortPath(t *testing.T) {
	asked := replay(t, riskModule(), "no", "no")
	require.Equal(t, []string{"risk_1", "risk_2", "risk_4"}, asked,
		"negative answers skip follow-ups and jump past the detail question")
}

func TestReplayRandomAnswersNeverRepeat(t *testing.T) {
	for seed := int64(0); seed < 32; seed++ {
		rng := rand.New(rand.NewSource(seed))
		asked := replayWith(t, riskModule(), func(*interview.Question) (any, string) {
			switch rng.Intn(3) {
			case 0:
				return "yes", "yes"
			case 1:
				return "no", "no"
			default:
				return nil, "not sure"
			}
		})
		require.NotEmpty(t, asked, "seed %d asked nothing", seed)
		require.Equal(t, "risk_1", asked[0], "seed %d must open with the safety question", seed)
	}
}
