package license

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"fatoora/internal/shared/testutil"
)

const testThreshold = 5

func newTestLockout(t *testing.T) (*Lockout, *FileStateStore) {
	t.Helper()
	store, _ := newTestStore(t)
	return NewLockout(store, testThreshold, nil, testLogger()), store
}

func TestLockout_AllowedBelowThreshold(t *testing.T) {
	lockout, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 1; i < testThreshold; i++ {
		state := lockout.RecordManualRetryAttempt(ctx)
		assert.Equal(t, i, state.RetryCount)
		assert.False(t, state.IsBlocked, "attempt %d must not block", i)
	}
}

func TestLockout_ThresholdBlocks(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	store, _ := newTestStore(t)
	lockout := NewLockout(store, testThreshold, nil, logger)
	ctx := context.Background()

	var state LockoutState
	for i := 0; i < testThreshold; i++ {
		state = lockout.RecordManualRetryAttempt(ctx)
	}

	assert.Equal(t, testThreshold, state.RetryCount)
	assert.True(t, state.IsBlocked)
	assert.True(t, lockout.IsBlocked())
	assert.True(t, logs.ContainsMessage("lockout engaged"))
}

func TestLockout_BlockedIsNoOp(t *testing.T) {
	lockout, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < testThreshold; i++ {
		lockout.RecordManualRetryAttempt(ctx)
	}

	// Further attempts must not grow the counter
	state := lockout.RecordManualRetryAttempt(ctx)
	assert.Equal(t, testThreshold, state.RetryCount)
	assert.True(t, state.IsBlocked)

	state = lockout.RecordManualRetryAttempt(ctx)
	assert.Equal(t, testThreshold, state.RetryCount)
}

func TestLockout_AccessGrantedResets(t *testing.T) {
	lockout, _ := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < testThreshold; i++ {
		lockout.RecordManualRetryAttempt(ctx)
	}
	assert.True(t, lockout.IsBlocked())

	lockout.OnAccessGranted(ctx)

	state := lockout.State()
	assert.Equal(t, 0, state.RetryCount)
	assert.False(t, state.IsBlocked)

	// The machine is usable again after the reset
	state = lockout.RecordManualRetryAttempt(ctx)
	assert.Equal(t, 1, state.RetryCount)
	assert.False(t, state.IsBlocked)
}

func TestLockout_ResetFromAllowedState(t *testing.T) {
	lockout, _ := newTestLockout(t)
	ctx := context.Background()

	lockout.RecordManualRetryAttempt(ctx)
	lockout.RecordManualRetryAttempt(ctx)

	lockout.OnAccessGranted(ctx)
	assert.Equal(t, LockoutState{}, lockout.State())
}

func TestLockout_SurvivesRestart(t *testing.T) {
	store, path := newTestStore(t)
	lockout := NewLockout(store, testThreshold, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < testThreshold; i++ {
		lockout.RecordManualRetryAttempt(ctx)
	}

	// A new store and lockout over the same file see the blocked state
	reopened := NewLockout(NewFileStateStore(path, testLogger()), testThreshold, nil, testLogger())
	assert.True(t, reopened.IsBlocked())
	assert.Equal(t, testThreshold, reopened.State().RetryCount)
}

func TestLockout_TamperedStateDefaultsToAllowed(t *testing.T) {
	store, path := newTestStore(t)
	lockout := NewLockout(store, testThreshold, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < testThreshold; i++ {
		lockout.RecordManualRetryAttempt(ctx)
	}

	// Deleting the state file resolves to the permissive defaults
	assert.NoError(t, os.Remove(path))
	assert.False(t, lockout.IsBlocked())

	state := lockout.RecordManualRetryAttempt(ctx)
	assert.Equal(t, 1, state.RetryCount)
}
