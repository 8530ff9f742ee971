// Package mail defines the outbound mail port. Transport mechanics (SMTP,
// provider APIs) live with the desktop shell; the core only needs to hand
// over a code and learn whether delivery succeeded.
package mail

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Mailer delivers a verification code to a recipient
type Mailer interface {
	Send(ctx context.Context, recipient, code string, expiresAt time.Time) error
}

// LogMailer is the default Mailer until the shell injects a real
// transport. It records the delivery intent without exposing the code.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs deliveries
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(slog.String("component", "mailer"))}
}

// Send logs the delivery and reports success
func (m *LogMailer) Send(ctx context.Context, recipient, code string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "verification code dispatched",
		slog.String("recipient", MaskAddress(recipient)),
		slog.String("code_masked", maskCode(code)),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}

// MaskAddress masks an email address for logging, keeping the domain
func MaskAddress(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}
	local := email[:at]
	if len(local) <= 2 {
		return "**" + email[at:]
	}
	return local[:1] + "****" + local[len(local)-1:] + email[at:]
}

func maskCode(code string) string {
	if len(code) <= 2 {
		return "******"
	}
	return code[:1] + "****" + code[len(code)-1:]
}
