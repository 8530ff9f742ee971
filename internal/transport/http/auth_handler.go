// Package http serves the local API the desktop shell talks to. Handlers
// translate between HTTP and the session core; all expected domain
// conditions (offline, locked out, expired PIN) surface as structured
// error responses, never as transport failures.
package http

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "fatoora/internal/errors"
	"fatoora/internal/license"
	"fatoora/internal/pin"
	"fatoora/internal/session"
)

// SessionService is the surface the handlers need from the auth session
type SessionService interface {
	Status() session.Status
	RetryValidation(ctx context.Context) (license.CheckResult, error)
	IssuePIN(ctx context.Context) (pin.Issuance, error)
	VerifyPIN(ctx context.Context, code string) error
	ChangeCredentials(ctx context.Context, username, password, code string) error
	ChangeEmail(ctx context.Context, newEmail, code string) error
}

// AuthHandler handles session, license, and credential endpoints
type AuthHandler struct {
	service  SessionService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAuthHandler creates the handler
func NewAuthHandler(service SessionService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "auth")),
		validate: validator.New(),
	}
}

// Routes returns the chi router for auth endpoints
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/auth/status", h.GetStatus)
	r.Post("/license/retry", h.RetryValidation)
	r.Post("/pin/issue", h.IssuePIN)
	r.Post("/pin/verify", h.VerifyPIN)
	r.Put("/credentials", h.ChangeCredentials)
	r.Put("/credentials/email", h.ChangeEmail)

	return r
}

// StatusResponse wraps the composed session status
type StatusResponse struct {
	Success bool           `json:"success"`
	Status  session.Status `json:"status"`
}

// GetStatus returns the composed session status
func (h *AuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, StatusResponse{Success: true, Status: h.service.Status()})
}

// RetryResponse carries the outcome of a manual validation attempt
type RetryResponse struct {
	Success bool                `json:"success"`
	Result  license.CheckResult `json:"result"`
	Status  session.Status      `json:"status"`
}

// RetryValidation runs one manual license validation attempt
func (h *AuthHandler) RetryValidation(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RetryValidation(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RetryResponse{Success: true, Result: result, Status: h.service.Status()})
}

// PINIssueResponse reports issuance; the code itself travels by email only
type PINIssueResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssuePIN issues a verification code for the account email
func (h *AuthHandler) IssuePIN(w http.ResponseWriter, r *http.Request) {
	issuance, err := h.service.IssuePIN(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PINIssueResponse{Success: true, ExpiresAt: issuance.ExpiresAt})
}

// PINVerifyRequest is the verification payload
type PINVerifyRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Bind implements render.Binder
func (p *PINVerifyRequest) Bind(r *http.Request) error {
	return nil
}

// PINVerifyResponse acknowledges a verified code
type PINVerifyResponse struct {
	Success bool `json:"success"`
}

// VerifyPIN checks a code against the account email
func (h *AuthHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req PINVerifyRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrValidation("code", "a 6-character code is required")))
		return
	}

	if err := h.service.VerifyPIN(r.Context(), req.Code); err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PINVerifyResponse{Success: true})
}

// CredentialsRequest is the credential-change payload. Code may be empty
// when a prior verified record exists for the account email.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Code     string `json:"code,omitempty"`
}

// Bind implements render.Binder
func (c *CredentialsRequest) Bind(r *http.Request) error {
	return nil
}

// ChangeCredentials updates the stored username and password, gated on a
// verified PIN for the account email.
func (h *AuthHandler) ChangeCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	if err := h.service.ChangeCredentials(r.Context(), req.Username, req.Password, req.Code); err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, StatusResponse{Success: true, Status: h.service.Status()})
}

// EmailChangeRequest is the account email change payload
type EmailChangeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code,omitempty"`
}

// Bind implements render.Binder
func (e *EmailChangeRequest) Bind(r *http.Request) error {
	return nil
}

// ChangeEmail updates the account email
func (h *AuthHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailChangeRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrValidation("email", "a valid email address is required")))
		return
	}

	if err := h.service.ChangeEmail(r.Context(), req.Email, req.Code); err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, StatusResponse{Success: true, Status: h.service.Status()})
}

// renderError maps domain sentinel errors to structured API errors
func (h *AuthHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierrors.APIError

	switch {
	case stderrors.Is(err, session.ErrLockedOut):
		apiErr = apierrors.ErrRetryLocked
	case stderrors.Is(err, session.ErrRetryInFlight):
		apiErr = apierrors.ErrRetryInFlight
	case stderrors.Is(err, session.ErrPINRequired):
		apiErr = apierrors.ErrPINRequired
	case stderrors.Is(err, session.ErrInvalidCredentials):
		apiErr = apierrors.InvalidRequestWithError(err)
	case stderrors.Is(err, pin.ErrExpired):
		apiErr = apierrors.ErrPINExpired
	case stderrors.Is(err, pin.ErrMismatch):
		apiErr = apierrors.ErrPINMismatch
	case stderrors.Is(err, pin.ErrNotFound):
		apiErr = apierrors.ErrPINRequired
	case stderrors.Is(err, pin.ErrInvalidRecipient):
		apiErr = apierrors.ErrInvalidRecipient
	default:
		h.logger.ErrorContext(r.Context(), "unexpected handler error",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		apiErr = apierrors.ErrInternalServer
	}

	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}
