package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountEmpty(t *testing.T) {
	require.Zero(t, Count(""))
}

func TestCountSimple(t *testing.T) {
	got := Count("hello world")
	require.Positive(t, got)
	if encoding != nil {
		// "hello world" is 2 tokens with cl100k_base
		require.Equal(t, 2, got)
	}
}

func TestEstimateFastMinWordCount(t *testing.T) {
	// 4 words beat the 7-rune quarter estimate
	require.Equal(t, 4, EstimateFast("a b c d"))
}

func TestTruncateZeroMaxIsNoOp(t *testing.T) {
	require.Equal(t, "anything", Truncate("anything", 0))
}

func TestTruncateLongText(t *testing.T) {
	text := strings.Repeat("hello world ", 100)
	got := Truncate(text, 5)
	require.NotEqual(t, text, got)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestTrimLinesToBudgetKeepsNewestLines(t *testing.T) {
	lines := []string{
		strings.Repeat("old line ", 50),
		strings.Repeat("middle line ", 50),
		"newest line",
	}
	trimmed := TrimLinesToBudget(lines, 10)
	require.NotEmpty(t, trimmed)
	require.Equal(t, "newest line", trimmed[len(trimmed)-1])
	require.Less(t, len(trimmed), len(lines))
}
