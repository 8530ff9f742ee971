package pin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatoora/internal/config"
)

type fakeMailer struct {
	sent    []sentMail
	failErr error
}

type sentMail struct {
	recipient string
	code      string
	expiresAt time.Time
}

func (m *fakeMailer) Send(_ context.Context, recipient, code string, expiresAt time.Time) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.sent = append(m.sent, sentMail{recipient: recipient, code: code, expiresAt: expiresAt})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPINConfig() config.PINConfig {
	return config.PINConfig{
		TTL:                  10 * time.Minute,
		SweepInterval:        5 * time.Minute,
		PlaceholderRecipient: "owner@fatoora.local",
	}
}

func newTestVerifier(t *testing.T) (*Verifier, *Store, *fakeMailer) {
	t.Helper()
	store := NewStore()
	mailer := &fakeMailer{}
	v := NewVerifier(store, mailer, testPINConfig(), nil, testLogger())
	return v, store, mailer
}

func TestIssue_GeneratesCodeAndMails(t *testing.T) {
	v, store, mailer := newTestVerifier(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	issuance, err := v.Issue(ctx, "User@Example.com")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile("^[0-9A-F]{6}$"), issuance.Code)
	assert.Equal(t, base.Add(10*time.Minute), issuance.ExpiresAt)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "user@example.com", mailer.sent[0].recipient)
	assert.Equal(t, issuance.Code, mailer.sent[0].code)

	rec, ok := store.Get("user@example.com")
	require.True(t, ok)
	assert.Equal(t, StateIssued, rec.State)
}

func TestIssue_RejectsBadRecipients(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		email string
	}{
		{name: "empty", email: ""},
		{name: "whitespace only", email: "   "},
		{name: "not an address", email: "not-an-email"},
		{name: "placeholder", email: "owner@fatoora.local"},
		{name: "placeholder case-insensitive", email: "Owner@Fatoora.Local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Issue(ctx, tt.email)
			assert.ErrorIs(t, err, ErrInvalidRecipient)
		})
	}
}

func TestIssue_ReissueInvalidatesPriorCode(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	first, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)
	second, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)

	if first.Code != second.Code {
		assert.ErrorIs(t, v.Verify(ctx, "user@example.com", first.Code), ErrMismatch)
	}
	assert.NoError(t, v.Verify(ctx, "user@example.com", second.Code))
}

func TestIssue_MailFailureDropsRecord(t *testing.T) {
	v, store, mailer := newTestVerifier(t)
	mailer.failErr = errors.New("smtp unavailable")
	ctx := context.Background()

	_, err := v.Issue(ctx, "user@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to deliver")

	// No stale record may shadow the next issuance
	assert.Equal(t, 0, store.Len())

	mailer.failErr = nil
	_, err = v.Issue(ctx, "user@example.com")
	assert.NoError(t, err)
}

func TestVerify_Lifecycle(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	issuance, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)

	// No record for a different address
	assert.ErrorIs(t, v.Verify(ctx, "other@example.com", issuance.Code), ErrNotFound)

	// Mismatch mutates nothing; the correct code still works afterwards
	assert.ErrorIs(t, v.Verify(ctx, "user@example.com", "000000"), ErrMismatch)
	assert.False(t, v.Verified("user@example.com"))

	assert.NoError(t, v.Verify(ctx, "user@example.com", issuance.Code))
	assert.True(t, v.Verified("user@example.com"))
}

func TestVerify_CaseAndWhitespaceNormalized(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	issuance, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)

	lower := " " + strings.ToLower(issuance.Code) + " "
	assert.NoError(t, v.Verify(ctx, "User@Example.COM", lower))
}

func TestVerify_ExpiredIsDistinctFromMismatch(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }

	issuance, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)

	now = base.Add(11 * time.Minute)
	err = v.Verify(ctx, "user@example.com", issuance.Code)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrMismatch)

	// Expiry is terminal: the right code keeps failing with ErrExpired
	assert.ErrorIs(t, v.Verify(ctx, "user@example.com", issuance.Code), ErrExpired)
	assert.False(t, v.Verified("user@example.com"))
}

func TestSweepExpired_RemovesOnlyExpired(t *testing.T) {
	v, store, _ := newTestVerifier(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }

	_, err := v.Issue(ctx, "old@example.com")
	require.NoError(t, err)

	now = base.Add(8 * time.Minute)
	_, err = v.Issue(ctx, "fresh@example.com")
	require.NoError(t, err)

	// At +11m the first code (expiry +10m) is gone, the second survives
	removed := v.SweepExpired(base.Add(11 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, ok := store.Get("fresh@example.com")
	assert.True(t, ok)
	_, ok = store.Get("old@example.com")
	assert.False(t, ok)
}

func TestVerified_ExpiryBoundsVerifiedState(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }

	issuance, err := v.Issue(ctx, "user@example.com")
	require.NoError(t, err)
	require.NoError(t, v.Verify(ctx, "user@example.com", issuance.Code))
	assert.True(t, v.Verified("user@example.com"))

	// A verified record no longer counts once its expiry passes
	now = base.Add(11 * time.Minute)
	assert.False(t, v.Verified("user@example.com"))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	v.sweepEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
