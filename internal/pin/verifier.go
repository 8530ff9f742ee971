// Package pin issues, tracks, and expires the short-lived verification
// codes that gate credential changes. Codes are bound to an email address
// with one active record per address; issuing a new code invalidates any
// prior one. Expiry is checked lazily on lookup and swept periodically.
package pin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fatoora/internal/config"
	"fatoora/internal/license"
	"fatoora/internal/mail"
)

// Sentinel errors callers distinguish. Expiry and mismatch are separate
// user-visible conditions and must never collapse into one.
var (
	ErrInvalidRecipient = errors.New("pin: invalid recipient address")
	ErrNotFound         = errors.New("pin: no code issued for this address")
	ErrExpired          = errors.New("pin: code has expired")
	ErrMismatch         = errors.New("pin: code does not match")
)

// codeBytes yields 6 upper-hex characters per code
const codeBytes = 3

// State is the lifecycle state of an issued code
type State int

const (
	StateIssued State = iota
	StateVerified
	StateExpired
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record is one issued code bound to an email address
type Record struct {
	Email     string
	Code      string
	ExpiresAt time.Time
	State     State
}

// Issuance is the result handed back to the caller; ExpiresAt is
// issuer-owned and authoritative.
type Issuance struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Verifier owns code issuance, verification, and expiry over an injected
// store. All store access happens under the store lock so the periodic
// sweep cannot race a concurrent verify.
type Verifier struct {
	store       *Store
	mailer      mail.Mailer
	ttl         time.Duration
	sweepEvery  time.Duration
	placeholder string
	metrics     *license.Metrics
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewVerifier creates a verifier over the given store. The TTL from
// configuration is the single authority for code lifetime.
func NewVerifier(store *Store, mailer mail.Mailer, cfg config.PINConfig, metrics *license.Metrics, logger *slog.Logger) *Verifier {
	return &Verifier{
		store:       store,
		mailer:      mailer,
		ttl:         cfg.TTL,
		sweepEvery:  cfg.SweepInterval,
		placeholder: cfg.PlaceholderRecipient,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "pin_verifier")),
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Issue generates a fresh code for the address, overwrites any prior
// record, hands the code to the mail collaborator, and returns the
// issuance with its issuer-side expiry. The address must be non-empty,
// well-formed, and not the never-customized placeholder.
func (v *Verifier) Issue(ctx context.Context, email string) (Issuance, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := v.checkRecipient(email); err != nil {
		return Issuance{}, err
	}

	code, err := generateCode()
	if err != nil {
		return Issuance{}, fmt.Errorf("failed to generate verification code: %w", err)
	}

	expiresAt := v.now().Add(v.ttl)
	v.store.Put(Record{
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
		State:     StateIssued,
	})

	if err := v.mailer.Send(ctx, email, code, expiresAt); err != nil {
		// The recipient can never receive this code; drop the record so a
		// stale entry does not shadow the next issuance.
		v.store.Delete(email)
		v.logger.ErrorContext(ctx, "verification code delivery failed",
			slog.String("recipient", mail.MaskAddress(email)),
			slog.String("error", err.Error()),
		)
		return Issuance{}, fmt.Errorf("failed to deliver verification code: %w", err)
	}

	v.metrics.RecordPINIssued(ctx)
	v.logger.InfoContext(ctx, "verification code issued",
		slog.String("recipient", mail.MaskAddress(email)),
		slog.Time("expires_at", expiresAt),
	)

	return Issuance{Code: code, ExpiresAt: expiresAt}, nil
}

// Verify marks the record Verified iff one exists for the address, is
// unexpired, and the code matches exactly. A mismatch mutates nothing, so
// a later correct attempt can still succeed before expiry.
func (v *Verifier) Verify(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ErrInvalidRecipient
	}

	err := v.store.verifyAndMark(email, strings.ToUpper(strings.TrimSpace(code)), v.now())
	switch {
	case err == nil:
		v.metrics.RecordPINVerified(ctx)
		v.logger.InfoContext(ctx, "verification code accepted",
			slog.String("recipient", mail.MaskAddress(email)),
		)
	case errors.Is(err, ErrExpired):
		v.logger.WarnContext(ctx, "verification code expired",
			slog.String("recipient", mail.MaskAddress(email)),
		)
	case errors.Is(err, ErrMismatch):
		v.logger.WarnContext(ctx, "verification code mismatch",
			slog.String("recipient", mail.MaskAddress(email)),
		)
	}
	return err
}

// Verified reports whether the address currently holds a verified,
// unexpired record.
func (v *Verifier) Verified(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	rec, ok := v.store.Get(email)
	if !ok {
		return false
	}
	return rec.State == StateVerified && v.now().Before(rec.ExpiresAt)
}

// SweepExpired removes all records whose expiry has passed and returns
// the number removed. Safe to run concurrently with Issue and Verify.
func (v *Verifier) SweepExpired(now time.Time) int {
	removed := v.store.sweep(now)
	if removed > 0 {
		v.logger.Debug("expired verification codes swept",
			slog.Int("removed", removed),
		)
	}
	return removed
}

// Run executes the periodic sweep until the context is cancelled. The
// task is owned by the process lifecycle: started at init, stopped at
// shutdown.
func (v *Verifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.SweepExpired(v.now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (v *Verifier) checkRecipient(email string) error {
	if email == "" {
		return ErrInvalidRecipient
	}
	if strings.EqualFold(email, v.placeholder) {
		return fmt.Errorf("%w: the default address has never been customized", ErrInvalidRecipient)
	}
	if err := v.validate.Var(email, "email"); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, email)
	}
	return nil
}

// generateCode returns 6 upper-hex characters from a cryptographically
// strong source.
func generateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
