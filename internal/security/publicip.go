package security

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fatoora/internal/config"
)

// maxEchoBodySize bounds the IP echo response read
const maxEchoBodySize = 4096

// PublicIPProber performs the best-effort public IP lookup against an
// external echo endpoint. Any failure resolves to "unknown"; the lookup
// must never block validation or surface an error.
type PublicIPProber struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewPublicIPProber creates a prober with a hard timeout from configuration
func NewPublicIPProber(cfg config.PublicIPConfig, logger *slog.Logger) *PublicIPProber {
	return &PublicIPProber{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With(slog.String("component", "public_ip")),
	}
}

// Lookup returns the public IP reported by the echo endpoint, or "unknown"
// on timeout, malformed body, or any transport failure.
func (p *PublicIPProber) Lookup(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return unknownValue
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.DebugContext(ctx, "public ip lookup failed",
			slog.String("error", err.Error()),
		)
		return unknownValue
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.DebugContext(ctx, "public ip lookup returned non-200",
			slog.Int("status", resp.StatusCode),
		)
		return unknownValue
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBodySize))
	if err != nil {
		return unknownValue
	}

	var echo struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &echo); err != nil {
		return unknownValue
	}
	if strings.TrimSpace(echo.IP) == "" {
		return unknownValue
	}

	return strings.TrimSpace(echo.IP)
}

// WithTimeout overrides the probe timeout; used by tests
func (p *PublicIPProber) WithTimeout(d time.Duration) *PublicIPProber {
	p.client.Timeout = d
	return p
}
