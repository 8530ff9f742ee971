package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fatoora/internal/config"
	"fatoora/internal/security"
)

// OfflineAdvisory is the user-facing message attached to fail-open results
const OfflineAdvisory = "cannot validate license - connection required"

// maxResponseSize bounds the authority response read
const maxResponseSize = 1 << 20

// CheckResult is produced by every validation call. AccessGranted is the
// negation of the authority's blocked verdict; offline results always
// grant access (fail-open).
type CheckResult struct {
	AccessGranted bool   `json:"accessGranted"`
	IsOnline      bool   `json:"isOnline"`
	Message       string `json:"message"`
	DeviceID      string `json:"deviceId,omitempty"`
	IsNewDevice   *bool  `json:"isNewDevice,omitempty"`
	OfflineMode   bool   `json:"offlineMode"`
}

// validationRequest is the outbound wire format. DeviceID is present only
// when the device has already been registered; UserData only when supplied.
type validationRequest struct {
	SoftwareName string            `json:"softwareName"`
	DeviceName   string            `json:"deviceName"`
	IPAddress    string            `json:"ipAddress"`
	PublicData   string            `json:"publicdata"`
	MACAddress   string            `json:"macAddress"`
	HardwareID   string            `json:"hardwareId"`
	Platform     string            `json:"platform"`
	Arch         string            `json:"arch"`
	UserInfo     string            `json:"userInfo"`
	DeviceID     string            `json:"deviceId,omitempty"`
	UserData     map[string]string `json:"userData,omitempty"`
}

// validationResponse is the authority's verdict
type validationResponse struct {
	IsBlocked   bool   `json:"isBlocked"`
	Message     string `json:"message"`
	DeviceID    string `json:"deviceId,omitempty"`
	IsNewDevice *bool  `json:"isNewDevice,omitempty"`
}

// Validator calls the remote license authority and interprets the result.
// It tracks the last validation time and online flag on every call,
// success or failure, for the session layer to observe.
type Validator struct {
	endpoint     string
	softwareName string
	client       *http.Client
	metrics      *Metrics
	logger       *slog.Logger

	mu             sync.RWMutex
	lastValidation time.Time
	online         bool
}

// NewValidator creates a validator for the configured authority. The
// request timeout is mandatory so a stalled authority can never hang the
// caller; timeouts take the same fail-open path as other failures.
func NewValidator(cfg config.LicenseConfig, metrics *Metrics, logger *slog.Logger) *Validator {
	return &Validator{
		endpoint:     cfg.Endpoint,
		softwareName: cfg.SoftwareName,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		metrics:      metrics,
		logger:       logger.With(slog.String("component", "license_validator")),
	}
}

// Validate checks the device against the authority. deviceID is included
// in the request only when non-empty; userData only when non-nil. Any
// transport, timeout, or parse failure yields the fail-open offline
// result. Only an explicit blocked verdict denies access.
func (v *Validator) Validate(ctx context.Context, fp *security.DeviceFingerprint, deviceID string, userData map[string]string) CheckResult {
	start := time.Now()

	reqBody := validationRequest{
		SoftwareName: v.softwareName,
		DeviceName:   fp.Hostname,
		IPAddress:    fp.IPAddress,
		PublicData:   fp.PublicIP,
		MACAddress:   fp.MACAddress,
		HardwareID:   fp.HardwareID,
		Platform:     fp.Platform,
		Arch:         fp.Arch,
		UserInfo:     fp.OSUser,
		DeviceID:     deviceID,
		UserData:     userData,
	}

	resp, err := v.post(ctx, reqBody)
	if err != nil {
		v.recordOutcome(false)
		v.metrics.RecordValidation(ctx, OutcomeOffline)
		v.logger.WarnContext(ctx, "license validation failed, entering offline mode",
			slog.String("error", err.Error()),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.Duration("duration", time.Since(start)),
		)
		return failOpenResult()
	}

	v.recordOutcome(true)

	result := CheckResult{
		AccessGranted: !resp.IsBlocked,
		IsOnline:      true,
		Message:       resp.Message,
		DeviceID:      resp.DeviceID,
		IsNewDevice:   resp.IsNewDevice,
		OfflineMode:   false,
	}

	if resp.IsBlocked {
		v.metrics.RecordValidation(ctx, OutcomeBlocked)
		v.logger.WarnContext(ctx, "license authority blocked this device",
			slog.String("hardware_id", fp.HardwareID),
			slog.String("message", resp.Message),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		v.metrics.RecordValidation(ctx, OutcomeGranted)
		v.logger.InfoContext(ctx, "license validated",
			slog.String("hardware_id", fp.HardwareID),
			slog.String("device_id", resp.DeviceID),
			slog.Bool("new_device", resp.IsNewDevice != nil && *resp.IsNewDevice),
			slog.Duration("duration", time.Since(start)),
		)
	}

	return result
}

// LastValidation reports the time of the most recent validation attempt
// and whether the authority was reachable on that attempt.
func (v *Validator) LastValidation() (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastValidation, v.online
}

func (v *Validator) recordOutcome(online bool) {
	v.mu.Lock()
	v.lastValidation = time.Now()
	v.online = online
	v.mu.Unlock()
}

func (v *Validator) post(ctx context.Context, body validationRequest) (*validationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read validation response: %w", err)
	}

	var verdict validationResponse
	if err := json.Unmarshal(data, &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse validation response: %w", err)
	}

	return &verdict, nil
}

// failOpenResult is the offline downgrade: access granted, advisory message
func failOpenResult() CheckResult {
	return CheckResult{
		AccessGranted: true,
		IsOnline:      false,
		Message:       OfflineAdvisory,
		OfflineMode:   true,
	}
}
