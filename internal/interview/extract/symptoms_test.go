package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mentionNames(t *testing.T, text string) map[string]string {
	t.Helper()
	byName := make(map[string]string)
	for _, m := range ScanSymptoms(text) {
		byName[m.Name] = m.Category
	}
	return byName
}

func TestScanSymptomsCategories(t *testing.T) {
	got := mentionNames(t, "I feel so sad and tired all the time, and I can't sleep most nights.")

	require.Equal(t, "mood", got["depressed mood"])
	require.Equal(t, "somatic", got["fatigue"])
	require.Equal(t, "sleep", got["sleep disturbance"])
}

func TestScanSymptomsOneMentionPerName(t *testing.T) {
	mentions := ScanSymptoms("sad, hopeless, crying all day")

	require.Len(t, mentions, 1)
	require.Equal(t, "depressed mood", mentions[0].Name)
	require.InDelta(t, keywordScanConfidence, mentions[0].Confidence, 0.001)
}

func TestScanSymptomsContextSnippet(t *testing.T) {
	mentions := ScanSymptoms("I keep having panic attacks on the train to work")

	require.NotEmpty(t, mentions)
	require.Equal(t, "anxiety", mentions[0].Name)
	require.Contains(t, mentions[0].Context, "panic")
}

func TestScanSymptomsEmptyInput(t *testing.T) {
	require.Nil(t, ScanSymptoms("   "))
}

func TestScanSymptomsRiskPhrases(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "ending my life", text: "sometimes i think about ending my life"},
		{name: "better off dead", text: "everyone would be better off dead without me around"},
		{name: "self harm", text: "I've been hurting myself when it gets bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mentionNames(t, tt.text)
			_, ideation := got["suicidal ideation"]
			_, harm := got["self harm"]
			require.True(t, ideation || harm)
			require.True(t, ContainsRiskLanguage(tt.text))
		})
	}
}

func TestContainsRiskLanguage(t *testing.T) {
	require.False(t, ContainsRiskLanguage("I sleep fine and feel happy"))
	require.False(t, ContainsRiskLanguage(""))

	// Negated mentions still raise the flag; clearing it is the risk
	// module's call, not the scanner's.
	require.True(t, ContainsRiskLanguage("I would never kill myself"))
}
