// Package session composes license validation, the retry lockout, the
// stored login profile, and PIN-gated credential changes into the single
// status object the rest of the application consumes. Authentication and
// device access are orthogonal axes: a user can hold valid credentials on
// a blocked device, and the shell renders that distinctly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fatoora/internal/license"
	"fatoora/internal/pin"
	"fatoora/internal/security"
)

// Sentinel errors surfaced to the transport layer
var (
	// ErrLockedOut is the terminal lockout condition; the shell must show
	// the "contact owner" screen, not the ordinary retry-failed message.
	ErrLockedOut = errors.New("session: manual retries exhausted, contact the application owner")

	// ErrRetryInFlight rejects retry clicks while a validation is running;
	// an in-flight call is never cancelled by a new click.
	ErrRetryInFlight = errors.New("session: a validation attempt is already in progress")

	// ErrPINRequired gates credential changes that arrive without a
	// verification code for the account email.
	ErrPINRequired = errors.New("session: a verified code is required to change credentials")

	ErrInvalidCredentials = errors.New("session: invalid username or password")
)

// Status is the composed user-facing session state
type Status struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	IsAccessGranted bool   `json:"isAccessGranted"`
	IsOnline        bool   `json:"isOnline"`
	OfflineMode     bool   `json:"offlineMode"`
	DeviceID        string `json:"deviceId,omitempty"`
	RetryCount      int    `json:"retryCount"`
	IsLockedOut     bool   `json:"isLockedOut"`
	Message         string `json:"message,omitempty"`
}

// Session owns the composed state. It is constructed once at startup and
// threaded through the application top-down; there is no package-level
// singleton.
type Session struct {
	fingerprints *security.Generator
	validator    *license.Validator
	lockout      *license.Lockout
	pins         *pin.Verifier
	state        license.StateStore
	profiles     *ProfileStore
	logger       *slog.Logger

	mu            sync.Mutex
	profile       Profile
	deviceID      string
	accessGranted bool
	online        bool
	offlineMode   bool
	message       string
	inFlight      bool
	onChange      func(Status)
}

// New wires the session from its collaborators
func New(
	fingerprints *security.Generator,
	validator *license.Validator,
	lockout *license.Lockout,
	pins *pin.Verifier,
	state license.StateStore,
	profiles *ProfileStore,
	logger *slog.Logger,
) *Session {
	return &Session{
		fingerprints: fingerprints,
		validator:    validator,
		lockout:      lockout,
		pins:         pins,
		state:        state,
		profiles:     profiles,
		logger:       logger.With(slog.String("component", "auth_session")),
		// Until the first check settles the shell treats access as granted;
		// denial only ever comes from an explicit authority verdict.
		accessGranted: true,
	}
}

// SetOnChange registers a hook invoked with a fresh status snapshot after
// every state change. Used by the websocket hub.
func (s *Session) SetOnChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Start loads persisted identity and triggers the initial license check.
// Profile loading and license validation are independent: a failure of
// one never blocks the other.
func (s *Session) Start(ctx context.Context) {
	persisted := s.state.Load()

	s.mu.Lock()
	s.profile = s.profiles.Load()
	s.deviceID = persisted.DeviceID
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session started",
		slog.String("username", s.profile.Username),
		slog.Bool("authenticated", s.profile.IsAuthenticated()),
		slog.Bool("device_registered", persisted.DeviceID != ""),
	)

	s.CheckLicense(ctx)
}

// Status returns the composed snapshot
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	lockoutState := s.lockout.State()
	return Status{
		IsAuthenticated: s.profile.IsAuthenticated(),
		Username:        s.profile.Username,
		Email:           s.profile.Email,
		IsAccessGranted: s.accessGranted,
		IsOnline:        s.online,
		OfflineMode:     s.offlineMode,
		DeviceID:        s.deviceID,
		RetryCount:      lockoutState.RetryCount,
		IsLockedOut:     lockoutState.IsBlocked,
		Message:         s.message,
	}
}

// CheckLicense runs one validation against the authority and applies the
// result: the device id is adopted at most once, and an online access
// grant resets the retry lockout. Background revalidation uses this path
// and never touches the manual retry counter.
func (s *Session) CheckLicense(ctx context.Context) license.CheckResult {
	fp := s.fingerprints.Generate(ctx)

	s.mu.Lock()
	knownDeviceID := s.deviceID
	s.mu.Unlock()

	result := s.validator.Validate(ctx, fp, knownDeviceID, nil)

	s.mu.Lock()
	if result.DeviceID != "" && s.deviceID == "" {
		s.deviceID = result.DeviceID
		if _, err := s.state.Update(func(st *license.LocalState) {
			if st.DeviceID == "" {
				st.DeviceID = result.DeviceID
			}
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to persist device id",
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "device registered with license authority",
			slog.String("device_id", result.DeviceID),
		)
	}
	s.accessGranted = result.AccessGranted
	s.online = result.IsOnline
	s.offlineMode = result.OfflineMode
	s.message = result.Message
	notify := s.onChange
	status := s.statusLocked()
	s.mu.Unlock()

	// Offline fail-open grants access but must not clear the throttle,
	// or pulling the network cable would defeat it.
	if result.AccessGranted && result.IsOnline {
		s.lockout.OnAccessGranted(ctx)
	}

	if notify != nil {
		notify(status)
	}

	return result
}

// RetryValidation is the manual, UI-driven revalidation path. It counts
// one lockout attempt per click, refuses clicks while a validation is in
// flight, and returns ErrLockedOut once the terminal condition holds.
func (s *Session) RetryValidation(ctx context.Context) (license.CheckResult, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return license.CheckResult{}, ErrRetryInFlight
	}
	if s.lockout.IsBlocked() {
		s.mu.Unlock()
		return license.CheckResult{}, ErrLockedOut
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	s.lockout.RecordManualRetryAttempt(ctx)
	return s.CheckLicense(ctx), nil
}

// IssuePIN issues a verification code for the account email
func (s *Session) IssuePIN(ctx context.Context) (pin.Issuance, error) {
	s.mu.Lock()
	email := s.profile.Email
	s.mu.Unlock()
	return s.pins.Issue(ctx, email)
}

// VerifyPIN verifies a code against the account email
func (s *Session) VerifyPIN(ctx context.Context, code string) error {
	s.mu.Lock()
	email := s.profile.Email
	s.mu.Unlock()
	return s.pins.Verify(ctx, email, code)
}

// ChangeCredentials updates username and password. The change is gated on
// a verification code for the account email: with an empty code a prior
// verified record must exist; otherwise the code is verified here. Any
// missing, expired, or mismatched code fails without touching credentials.
func (s *Session) ChangeCredentials(ctx context.Context, username, password, code string) error {
	if len(username) < 3 || len(password) < 8 {
		return fmt.Errorf("%w: username needs 3+ characters, password 8+", ErrInvalidCredentials)
	}

	s.mu.Lock()
	email := s.profile.Email
	s.mu.Unlock()

	if code == "" {
		if !s.pins.Verified(email) {
			return ErrPINRequired
		}
	} else {
		if err := s.pins.Verify(ctx, email, code); err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				return ErrPINRequired
			}
			return err
		}
	}

	s.mu.Lock()
	updated := s.profile
	updated.Username = username
	if err := updated.SetPassword(password); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.profiles.Save(updated); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	s.profile = updated
	notify := s.onChange
	status := s.statusLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "credentials changed",
		slog.String("username", username),
	)

	if notify != nil {
		notify(status)
	}
	return nil
}

// ChangeEmail updates the account email, gated the same way as other
// credential changes. Codes are verified against the current address.
func (s *Session) ChangeEmail(ctx context.Context, newEmail, code string) error {
	s.mu.Lock()
	current := s.profile.Email
	s.mu.Unlock()

	// A fresh install still carries the placeholder address, which can
	// never receive a code; the first customization is ungated.
	if current == s.profiles.DefaultEmail() {
		return s.saveEmail(ctx, newEmail)
	}

	if code == "" {
		if !s.pins.Verified(current) {
			return ErrPINRequired
		}
	} else {
		if err := s.pins.Verify(ctx, current, code); err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				return ErrPINRequired
			}
			return err
		}
	}

	return s.saveEmail(ctx, newEmail)
}

func (s *Session) saveEmail(ctx context.Context, newEmail string) error {
	s.mu.Lock()
	updated := s.profile
	updated.Email = newEmail
	if err := s.profiles.Save(updated); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist email change: %w", err)
	}
	s.profile = updated
	notify := s.onChange
	status := s.statusLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "account email changed")

	if notify != nil {
		notify(status)
	}
	return nil
}
