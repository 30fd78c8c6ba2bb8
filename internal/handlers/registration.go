package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/services"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
)

// RegistrationServiceInterface is the applicant side of the workflow.
type RegistrationServiceInterface interface {
	RequestRegistration(ctx context.Context, in services.RegistrationInput) (*services.RequestReceipt, error)
	VerifyEmail(ctx context.Context, email, code string) error
	GetStatus(ctx context.Context, email string) (models.RegistrationStatus, error)
	CompleteRegistration(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error)
}

// RegistrationHandler serves the public registration endpoints.
type RegistrationHandler struct {
	service RegistrationServiceInterface
	logger  *slog.Logger
}

func NewRegistrationHandler(service RegistrationServiceInterface, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{service: service, logger: logger}
}

// Request DTOs

type RegistrationRequestBody struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Role      string `json:"role" validate:"required"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type StatusRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CompleteRegistrationRequest has no role field. The role comes from the approved request.
type CompleteRegistrationRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

// Response DTOs

type MessageResponse struct {
	Message string `json:"message"`
}

type VerifyEmailResponse struct {
	OK bool `json:"ok"`
}

type StatusResponse struct {
	Status models.RegistrationStatus `json:"status"`
}

type CompleteRegistrationResponse struct {
	Session *models.SessionCredential `json:"session"`
	User    models.UserProfile        `json:"user"`
}

const acknowledgment = "Request received. If this email can be registered, a verification code is on its way."

// RequestRegistration handles POST /registration/requests. Success, an existing
// account and an existing request all get the same 202 so the response never
// reveals who has applied.
func (h *RegistrationHandler) RequestRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.RequestRegistration(r.Context(), services.RegistrationInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil && !errors.Is(err, models.ErrAccountExists) && !errors.Is(err, models.ErrDuplicateRequest) {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: acknowledgment})
}

// VerifyEmail handles POST /registration/verify. An email with no open request
// gets the same answer as a wrong code.
func (h *RegistrationHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidState) {
			err = models.ErrInvalidCode
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyEmailResponse{OK: true})
}

// GetStatus handles POST /registration/status. The email travels in the body
// so it stays out of access logs.
func (h *RegistrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	status, err := h.service.GetStatus(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// CompleteRegistration handles POST /registration/complete.
func (h *RegistrationHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req CompleteRegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.CompleteRegistration(r.Context(), services.CompletionInput{
		Email:    req.Email,
		Password: req.Password,
		Token:    req.Token,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, CompleteRegistrationResponse{
		Session: result.Session,
		User:    result.User,
	})
}
