package license

import (
	"context"
	"log/slog"
	"sync"
)

// LockoutState is a snapshot of the retry-lockout state machine
type LockoutState struct {
	RetryCount int  `json:"retryCount"`
	IsBlocked  bool `json:"isBlocked"`
}

// Lockout throttles repeated manual validation attempts. Two states:
// Allowed (count below threshold) and Blocked. While Blocked, further
// attempts are no-ops; only an access-granted validation resets it.
// The state is local friction, not a security boundary.
type Lockout struct {
	store     StateStore
	threshold int
	metrics   *Metrics
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewLockout creates a lockout over the shared state store. threshold is
// the attempt count at which the machine transitions to Blocked.
func NewLockout(store StateStore, threshold int, metrics *Metrics, logger *slog.Logger) *Lockout {
	return &Lockout{
		store:     store,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "retry_lockout")),
	}
}

// State returns the current snapshot from persisted state
func (l *Lockout) State() LockoutState {
	state := l.store.Load()
	return LockoutState{RetryCount: state.RetryCount, IsBlocked: state.IsBlocked}
}

// IsBlocked reports whether the terminal lockout condition holds
func (l *Lockout) IsBlocked() bool {
	return l.store.Load().IsBlocked
}

// RecordManualRetryAttempt counts one manual validation attempt. While
// Allowed it increments the counter, transitioning to Blocked and
// persisting immediately when the threshold is reached. While Blocked it
// is a no-op: the counter must not grow and no new side effects fire.
func (l *Lockout) RecordManualRetryAttempt(ctx context.Context) LockoutState {
	l.mu.Lock()
	defer l.mu.Unlock()

	var transitioned bool
	state, err := l.store.Update(func(s *LocalState) {
		if s.IsBlocked {
			return
		}
		s.RetryCount++
		if s.RetryCount >= l.threshold {
			s.IsBlocked = true
			transitioned = true
		}
	})
	if err != nil {
		// Persistence faults resolve permissively; the in-memory count
		// still advanced for this run.
		l.logger.WarnContext(ctx, "failed to persist retry state",
			slog.String("error", err.Error()),
		)
	}

	if transitioned {
		l.metrics.RecordLockout(ctx)
		l.logger.WarnContext(ctx, "manual retries exhausted, lockout engaged",
			slog.Int("retry_count", state.RetryCount),
			slog.Int("threshold", l.threshold),
		)
	} else {
		l.logger.InfoContext(ctx, "manual retry recorded",
			slog.Int("retry_count", state.RetryCount),
			slog.Int("threshold", l.threshold),
			slog.Bool("blocked", state.IsBlocked),
		)
	}

	return LockoutState{RetryCount: state.RetryCount, IsBlocked: state.IsBlocked}
}

// OnAccessGranted resets the machine to the initial state. Callable from
// either state; fires whenever an online license check grants access.
func (l *Lockout) OnAccessGranted(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.store.Load()
	if before.RetryCount == 0 && !before.IsBlocked {
		return
	}

	if _, err := l.store.Update(func(s *LocalState) {
		s.RetryCount = 0
		s.IsBlocked = false
	}); err != nil {
		l.logger.WarnContext(ctx, "failed to clear retry state",
			slog.String("error", err.Error()),
		)
		return
	}

	l.logger.InfoContext(ctx, "retry lockout reset after access granted",
		slog.Int("previous_count", before.RetryCount),
		slog.Bool("was_blocked", before.IsBlocked),
	)
}
