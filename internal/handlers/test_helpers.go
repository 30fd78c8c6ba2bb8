package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/carepath/internal/auth"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/services"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID string, role models.Role) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockRegistrationService implements RegistrationServiceInterface for testing
type MockRegistrationService struct {
	RequestRegistrationFunc  func(ctx context.Context, in services.RegistrationInput) (*services.RequestReceipt, error)
	VerifyEmailFunc          func(ctx context.Context, email, code string) error
	GetStatusFunc            func(ctx context.Context, email string) (models.RegistrationStatus, error)
	CompleteRegistrationFunc func(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error)
}

func (m *MockRegistrationService) RequestRegistration(ctx context.Context, in services.RegistrationInput) (*services.RequestReceipt, error) {
	if m.RequestRegistrationFunc == nil {
		return &services.RequestReceipt{RequestID: "req-1", CodeSent: true}, nil
	}
	return m.RequestRegistrationFunc(ctx, in)
}

func (m *MockRegistrationService) VerifyEmail(ctx context.Context, email, code string) error {
	if m.VerifyEmailFunc == nil {
		return nil
	}
	return m.VerifyEmailFunc(ctx, email, code)
}

func (m *MockRegistrationService) GetStatus(ctx context.Context, email string) (models.RegistrationStatus, error) {
	if m.GetStatusFunc == nil {
		return models.StatusPending, nil
	}
	return m.GetStatusFunc(ctx, email)
}

func (m *MockRegistrationService) CompleteRegistration(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error) {
	if m.CompleteRegistrationFunc == nil {
		return nil, models.ErrInvalidOrExpiredToken
	}
	return m.CompleteRegistrationFunc(ctx, in)
}

// MockApprovalGate implements ApprovalGateInterface for testing
type MockApprovalGate struct {
	ListRequestsFunc   func(ctx context.Context, actorID string, in services.ListInput) (*services.RequestPage, error)
	GetRequestFunc     func(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error)
	ApproveFunc        func(ctx context.Context, actorID, id string, notes *string) (*models.RegistrationRequest, error)
	RejectFunc         func(ctx context.Context, actorID, id, reason string, notes *string) (*models.RegistrationRequest, error)
	ResendApprovalFunc func(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error)
}

func (m *MockApprovalGate) ListRequests(ctx context.Context, actorID string, in services.ListInput) (*services.RequestPage, error) {
	if m.ListRequestsFunc == nil {
		return &services.RequestPage{}, nil
	}
	return m.ListRequestsFunc(ctx, actorID, in)
}

func (m *MockApprovalGate) GetRequest(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error) {
	if m.GetRequestFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetRequestFunc(ctx, actorID, id)
}

func (m *MockApprovalGate) Approve(ctx context.Context, actorID, id string, notes *string) (*models.RegistrationRequest, error) {
	if m.ApproveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ApproveFunc(ctx, actorID, id, notes)
}

func (m *MockApprovalGate) Reject(ctx context.Context, actorID, id, reason string, notes *string) (*models.RegistrationRequest, error) {
	if m.RejectFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RejectFunc(ctx, actorID, id, reason, notes)
}

func (m *MockApprovalGate) ResendApproval(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error) {
	if m.ResendApprovalFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ResendApprovalFunc(ctx, actorID, id)
}
