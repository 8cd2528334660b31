package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mira/internal/interview"
)

// flakeStore fails PutSession a configured number of times before
// delegating, and counts calls.
type flakeStore struct {
	Store
	putFailures int
	putCalls    int
	getCalls    int
}

func (f *flakeStore) PutSession(ctx context.Context, session *interview.Session) error {
	f.putCalls++
	if f.putFailures > 0 {
		f.putFailures--
		return fmt.Errorf("disk unavailable")
	}
	return f.Store.PutSession(ctx, session)
}

func (f *flakeStore) GetSession(ctx context.Context, sessionID string) (*interview.Session, error) {
	f.getCalls++
	return f.Store.GetSession(ctx, sessionID)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	ctx := context.Background()
	flake := &flakeStore{Store: NewMemory(), putFailures: 1}
	s := WithRetry(flake, 2, time.Millisecond, nil)

	require.NoError(t, s.PutSession(ctx, testSession("s1")))
	require.Equal(t, 2, flake.putCalls)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	flake := &flakeStore{Store: NewMemory(), putFailures: 5}
	s := WithRetry(flake, 2, time.Millisecond, nil)

	err := s.PutSession(ctx, testSession("s1"))
	require.Error(t, err)
	require.Equal(t, 2, flake.putCalls)
}

func TestRetryPassesThroughNotFound(t *testing.T) {
	ctx := context.Background()
	flake := &flakeStore{Store: NewMemory()}
	s := WithRetry(flake, 3, time.Millisecond, nil)

	_, err := s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, flake.getCalls, "a lookup miss is not worth retrying")
}
