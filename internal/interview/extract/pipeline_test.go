package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mira/internal/config"
	"mira/internal/interview"
	"mira/internal/llm"
	"mira/internal/prompts"
)

func testPipeline(t *testing.T) (*Pipeline, *llm.MockClient) {
	t.Helper()
	loader, err := prompts.NewLoader()
	require.NoError(t, err)
	mock := llm.NewMockClient("")
	return NewPipeline(mock, loader, config.Default().Extraction, nil), mock
}

func TestExtractYesNoRuleBasedOnly(t *testing.T) {
	p, mock := testPipeline(t)

	resp := p.Extract(context.Background(), Request{
		Question: yesNoQuestion(),
		Message:  "yes but not recently",
	})

	require.Equal(t, "yes", resp.Value)
	require.Equal(t, interview.MethodRuleBased, resp.Method)
	require.Equal(t, "not recently", resp.Structured.Duration)
	require.Equal(t, map[string]bool{"depressed_mood": true}, resp.CriteriaMapping)
	require.Empty(t, mock.Calls(), "short closed answers should not reach the model")
}

func TestExtractNegativeAnswerMapsCriterionFalse(t *testing.T) {
	p, _ := testPipeline(t)

	resp := p.Extract(context.Background(), Request{
		Question: yesNoQuestion(),
		Message:  "never had that",
	})

	require.Equal(t, "no", resp.Value)
	require.Equal(t, map[string]bool{"depressed_mood": false}, resp.CriteriaMapping)
}

func TestExtractModelDownReturnsClarification(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Fail(errors.New("connection refused"))

	resp := p.Extract(context.Background(), Request{
		Question: yesNoQuestion(),
		Message:  "not sure",
	})

	require.Nil(t, resp.Value)
	require.True(t, resp.NeedsClarification)
	require.Zero(t, resp.Confidence)
	require.Equal(t, interview.MethodNone, resp.Method)
	require.Equal(t, "not sure", resp.RawText)
}

func TestExtractFreeTextUsesModel(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue(`{"value":"I lost my job last spring","confidence":0.88,` +
		`"structured":{"impact":"job loss"},` +
		`"symptoms":[{"name":"insomnia","category":"sleep","context":"poor sleep since spring"}]}`)

	q := &interview.Question{ID: "ps_1", Text: "What brings you in today?", Type: interview.ResponseFreeText}
	resp := p.Extract(context.Background(), Request{
		Question: q,
		Message:  "I lost my job last spring and things went downhill",
		Conversation: []interview.ConversationTurn{
			{Role: interview.RoleAssistant, Content: "What brings you in today?"},
			{Role: interview.RoleUser, Content: "where do I even start"},
		},
	})

	require.Equal(t, "I lost my job last spring", resp.Value)
	require.Equal(t, interview.MethodLLMPrimary, resp.Method)
	require.Equal(t, "job loss", resp.Structured.Impact)
	require.Len(t, resp.Symptoms, 1)
	require.Equal(t, "insomnia", resp.Symptoms[0].Name)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].Prompt, "What brings you in today?")
	require.Contains(t, calls[0].Prompt, "Patient: where do I even start")
}

func TestExtractRepairsSloppyModelJSON(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue("```json\n{\"value\": \"yes\", \"confidence\": 0.9,}\n```")

	resp := p.Extract(context.Background(), Request{
		Question:      yesNoQuestion(),
		Message:       "well its complicated i suppose",
		PriorAttempts: 1,
	})

	require.Equal(t, "yes", resp.Value)
	require.Equal(t, interview.MethodLLMPrimary, resp.Method)
	require.InDelta(t, 0.9, resp.Confidence, 0.001)
}

func TestExtractCoercesModelAnswerToOption(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue(`{"value":"non binary person","confidence":0.9}`)

	resp := p.Extract(context.Background(), Request{
		Question:      choiceQuestion(),
		Message:       "im a non binary person",
		PriorAttempts: 1,
	})

	require.Equal(t, "Non-binary", resp.Value)
	require.NotEmpty(t, resp.ValidationErrors)
	require.InDelta(t, 0.75, resp.Confidence, 0.001)
	require.False(t, resp.NeedsClarification)
}

func TestExtractScaleOutOfRangeSurfacedWithWarning(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue(`{"value":15,"confidence":0.95}`)

	resp := p.Extract(context.Background(), Request{
		Question:      scaleQuestion(),
		Message:       "honestly like a 15",
		PriorAttempts: 1,
	})

	require.Equal(t, 15.0, resp.Value)
	require.NotEmpty(t, resp.ValidationErrors)
	require.InDelta(t, 0.8, resp.Confidence, 0.001)
}

func TestExtractEmptyMessageAsksForClarification(t *testing.T) {
	p, mock := testPipeline(t)

	resp := p.Extract(context.Background(), Request{Question: yesNoQuestion(), Message: "   "})

	require.Nil(t, resp.Value)
	require.True(t, resp.NeedsClarification)
	require.Empty(t, mock.Calls())
}

func TestExtractNilQuestionStaysWellFormed(t *testing.T) {
	p, _ := testPipeline(t)

	resp := p.Extract(context.Background(), Request{Message: "yes"})

	require.NotNil(t, resp)
	require.Nil(t, resp.Value)
	require.True(t, resp.NeedsClarification)
}

func TestExtractRecordsStrategyOutcomes(t *testing.T) {
	p, _ := testPipeline(t)

	p.Extract(context.Background(), Request{Question: yesNoQuestion(), Message: "yes"})

	snap := p.Stats().Snapshot()
	ms := snap[interview.ResponseYesNo][interview.MethodRuleBased]
	require.Equal(t, 1, ms.Attempts)
	require.Equal(t, 1, ms.Successes)
}

func sleepChoiceObservation() observation {
	return observation{
		rawText: "trouble falling asleep most nights",
		question: &interview.Question{
			ID:      "sleep_2",
			Type:    interview.ResponseMultipleChoice,
			Options: []string{"Trouble falling asleep", "Waking up too early"},
		},
	}
}

func TestHybridConfidentRuleSkipsModel(t *testing.T) {
	p, mock := testPipeline(t)

	resp, err := p.runHybrid(context.Background(), observation{
		rawText:  "yes definitely",
		question: yesNoQuestion(),
	})

	require.NoError(t, err)
	require.Equal(t, "yes", resp.Value)
	require.Equal(t, interview.MethodHybrid, resp.Method)
	require.Empty(t, mock.Calls())
}

func TestHybridAgreementBoostsConfidence(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue(`{"value":"Trouble falling asleep","confidence":0.7}`)

	resp, err := p.runHybrid(context.Background(), sleepChoiceObservation())

	require.NoError(t, err)
	require.Equal(t, "Trouble falling asleep", resp.Value)
	require.Equal(t, interview.MethodHybrid, resp.Method)
	require.InDelta(t, 0.93, resp.Confidence, 0.001)
}

func TestHybridDisagreementPrefersHigherConfidence(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Enqueue(`{"value":"Waking up too early","confidence":0.9}`)

	resp, err := p.runHybrid(context.Background(), sleepChoiceObservation())
	require.NoError(t, err)
	require.Equal(t, "Waking up too early", resp.Value)

	p2, mock2 := testPipeline(t)
	mock2.Enqueue(`{"value":"Waking up too early","confidence":0.5}`)

	resp, err = p2.runHybrid(context.Background(), sleepChoiceObservation())
	require.NoError(t, err)
	require.Equal(t, "Trouble falling asleep", resp.Value)
}

func TestHybridModelDownDegradesRuleConfidence(t *testing.T) {
	p, mock := testPipeline(t)
	mock.Fail(errors.New("503 service unavailable"))

	resp, err := p.runHybrid(context.Background(), sleepChoiceObservation())

	require.NoError(t, err)
	require.Equal(t, "Trouble falling asleep", resp.Value)
	require.InDelta(t, 0.58, resp.Confidence, 0.001)
}
