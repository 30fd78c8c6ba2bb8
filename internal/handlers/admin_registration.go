package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/carepath/internal/auth"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/services"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
	"github.com/go-chi/chi/v5"
)

// ApprovalGateInterface is the administrator side of the workflow.
type ApprovalGateInterface interface {
	ListRequests(ctx context.Context, actorID string, in services.ListInput) (*services.RequestPage, error)
	GetRequest(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error)
	Approve(ctx context.Context, actorID, id string, notes *string) (*models.RegistrationRequest, error)
	Reject(ctx context.Context, actorID, id, reason string, notes *string) (*models.RegistrationRequest, error)
	ResendApproval(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error)
}

// AdminRegistrationHandler serves the admin review queue.
type AdminRegistrationHandler struct {
	gate   ApprovalGateInterface
	logger *slog.Logger
}

func NewAdminRegistrationHandler(gate ApprovalGateInterface, logger *slog.Logger) *AdminRegistrationHandler {
	return &AdminRegistrationHandler{gate: gate, logger: logger}
}

type ApproveRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

type RejectRequest struct {
	Reason string  `json:"reason" validate:"required,max=1000"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

type ListRegistrationsResponse struct {
	Requests   []*models.RegistrationRequest `json:"requests"`
	Pagination models.Pagination             `json:"pagination"`
}

// actorID returns the authenticated administrator's id.
func actorID(r *http.Request) (string, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// ListRegistrations handles GET /admin/registrations?status=&page=&limit=
func (h *AdminRegistrationHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	q := r.URL.Query()
	in := services.ListInput{Status: q.Get("status")}
	var err error
	if in.Page, err = intParam(q.Get("page")); err != nil {
		pkghttp.WriteBadRequest(w, "page must be an integer")
		return
	}
	if in.Limit, err = intParam(q.Get("limit")); err != nil {
		pkghttp.WriteBadRequest(w, "limit must be an integer")
		return
	}

	page, err := h.gate.ListRequests(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	requests := page.Requests
	if requests == nil {
		requests = []*models.RegistrationRequest{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, ListRegistrationsResponse{
		Requests:   requests,
		Pagination: page.Pagination,
	})
}

// GetRegistration handles GET /admin/registrations/{id}
func (h *AdminRegistrationHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	req, err := h.gate.GetRequest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, req)
}

// Approve handles POST /admin/registrations/{id}/approve
func (h *AdminRegistrationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	// The body is optional.
	var req ApproveRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	updated, err := h.gate.Approve(r.Context(), actor, chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, updated)
}

// Reject handles POST /admin/registrations/{id}/reject
func (h *AdminRegistrationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteMissingReason(w, err.Error())
		return
	}

	updated, err := h.gate.Reject(r.Context(), actor, chi.URLParam(r, "id"), req.Reason, req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, updated)
}

// ResendApproval handles POST /admin/registrations/{id}/resend-approval
func (h *AdminRegistrationHandler) ResendApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	updated, err := h.gate.ResendApproval(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, updated)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
