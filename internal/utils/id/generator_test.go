package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionIDHasPrefixAndIsUnique(t *testing.T) {
	first := NewSessionID()
	second := NewSessionID()

	require.True(t, strings.HasPrefix(first, "session-"))
	require.NotEqual(t, first, second)
}

func TestUUIDv7StrategyProducesParseableIDs(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	turnID := NewTurnID()
	require.True(t, strings.HasPrefix(turnID, "turn-"))
	require.Len(t, strings.TrimPrefix(turnID, "turn-"), 36)
}
