package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/carepath/internal/handlers"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/services"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validRegistration() handlers.RegistrationRequestBody {
	return handlers.RegistrationRequestBody{
		Email: "alice@example.com", FirstName: "Alice", LastName: "Adams", Role: "CLINICIAN",
	}
}

func TestRequestRegistration_GenericAcknowledgment(t *testing.T) {
	// Every outcome that could reveal an existing account or request looks the same.
	for _, serviceErr := range []error{nil, models.ErrAccountExists, models.ErrDuplicateRequest} {
		name := "success"
		if serviceErr != nil {
			name = serviceErr.Error()
		}
		t.Run(name, func(t *testing.T) {
			mock := &handlers.MockRegistrationService{
				RequestRegistrationFunc: func(ctx context.Context, in services.RegistrationInput) (*services.RequestReceipt, error) {
					assert.Equal(t, "alice@example.com", in.Email)
					assert.Equal(t, "CLINICIAN", in.Role)
					if serviceErr != nil {
						return nil, serviceErr
					}
					return &services.RequestReceipt{RequestID: "6f1d7a9e-1111-4222-8333-444455556666", CodeSent: true}, nil
				},
			}
			h := handlers.NewRegistrationHandler(mock, testLogger())

			w := httptest.NewRecorder()
			h.RequestRegistration(w, handlers.NewTestRequest(t, "POST", "/registration/requests", validRegistration()))

			var resp handlers.MessageResponse
			handlers.AssertJSONResponse(t, w, 202, &resp)
			assert.NotEmpty(t, resp.Message)
			assert.NotContains(t, w.Body.String(), "6f1d7a9e")
		})
	}
}

func TestRequestRegistration_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		status     int
		code       string
	}{
		{"missing email", handlers.RegistrationRequestBody{FirstName: "A", LastName: "B", Role: "BILLER"}, nil, 400, "bad_request"},
		{"bad email", handlers.RegistrationRequestBody{Email: "nope", FirstName: "A", LastName: "B", Role: "BILLER"}, nil, 400, "bad_request"},
		{"admin role", validRegistration(), models.ErrInvalidRole, 400, "bad_request"},
		{"store down", validRegistration(), fmt.Errorf("lookup user: %w", models.ErrUnavailable), 503, "unavailable"},
		{"unexpected", validRegistration(), errors.New("boom"), 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockRegistrationService{
				RequestRegistrationFunc: func(ctx context.Context, in services.RegistrationInput) (*services.RequestReceipt, error) {
					return nil, tt.serviceErr
				},
			}
			h := handlers.NewRegistrationHandler(mock, testLogger())

			w := httptest.NewRecorder()
			h.RequestRegistration(w, handlers.NewTestRequest(t, "POST", "/registration/requests", tt.body))

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestRequestRegistration_MalformedBody(t *testing.T) {
	h := handlers.NewRegistrationHandler(&handlers.MockRegistrationService{}, testLogger())

	req := httptest.NewRequest("POST", "/registration/requests", strings.NewReader(`{"email":`))
	w := httptest.NewRecorder()
	h.RequestRegistration(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestVerifyEmail(t *testing.T) {
	tests := []struct {
		name       string
		body       handlers.VerifyEmailRequest
		serviceErr error
		status     int
		code       string
	}{
		{"ok", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123456"}, nil, 200, ""},
		{"short code", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123"}, nil, 400, "bad_request"},
		{"letters", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "12a456"}, nil, 400, "bad_request"},
		{"wrong code", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123456"}, models.ErrInvalidCode, 400, "invalid_code"},
		{"locked", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123456"}, models.ErrTooManyAttempts, 429, "too_many_attempts"},
		{"no open request", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123456"}, models.ErrNotFound, 400, "invalid_code"},
		{"request closed meanwhile", handlers.VerifyEmailRequest{Email: "a@example.com", Code: "123456"}, &models.InvalidStateError{Current: models.StatusRejected}, 400, "invalid_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockRegistrationService{
				VerifyEmailFunc: func(ctx context.Context, email, code string) error {
					return tt.serviceErr
				},
			}
			h := handlers.NewRegistrationHandler(mock, testLogger())

			w := httptest.NewRecorder()
			h.VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/registration/verify", tt.body))

			if tt.code == "" {
				var resp handlers.VerifyEmailResponse
				handlers.AssertJSONResponse(t, w, tt.status, &resp)
				assert.True(t, resp.OK)
				return
			}
			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestGetStatus(t *testing.T) {
	mock := &handlers.MockRegistrationService{
		GetStatusFunc: func(ctx context.Context, email string) (models.RegistrationStatus, error) {
			assert.Equal(t, "bob@example.com", email)
			return models.StatusApproved, nil
		},
	}
	h := handlers.NewRegistrationHandler(mock, testLogger())

	w := httptest.NewRecorder()
	h.GetStatus(w, handlers.NewTestRequest(t, "POST", "/registration/status", handlers.StatusRequest{Email: "bob@example.com"}))

	var resp handlers.StatusResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.StatusApproved, resp.Status)
}

func TestCompleteRegistration_Success(t *testing.T) {
	mock := &handlers.MockRegistrationService{
		CompleteRegistrationFunc: func(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error) {
			assert.Equal(t, "tok", in.Token)
			return &services.CompletionResult{
				Session: &models.SessionCredential{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", ExpiresIn: 900},
				User: models.UserProfile{
					ID: "user-1", Email: "alice@example.com", Role: models.RoleClinician, IsActive: true, CreatedAt: time.Now(),
				},
			}, nil
		},
	}
	h := handlers.NewRegistrationHandler(mock, testLogger())

	// A role smuggled into the body has nowhere to go.
	body := map[string]string{"email": "alice@example.com", "password": "Cl1nic!anPass", "token": "tok", "role": "ADMIN"}
	w := httptest.NewRecorder()
	h.CompleteRegistration(w, handlers.NewTestRequest(t, "POST", "/registration/complete", body))

	var resp handlers.CompleteRegistrationResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "access", resp.Session.AccessToken)
	assert.Equal(t, models.RoleClinician, resp.User.Role)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestCompleteRegistration_Errors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		status     int
		code       string
		details    string
	}{
		{"pending", &models.NotApprovedError{Status: models.StatusPending}, 409, "not_approved", "PENDING"},
		{"rejected", &models.NotApprovedError{Status: models.StatusRejected}, 409, "not_approved", "REJECTED"},
		{"unverified", models.ErrEmailNotVerified, 409, "email_not_verified", ""},
		{"bad token", models.ErrInvalidOrExpiredToken, 400, "invalid_token", ""},
		{"weak password", fmt.Errorf("%w: %w", models.ErrWeakPassword, &pkgauth.PasswordValidationError{Errors: []string{"too short"}}), 400, "weak_password", "too short"},
		{"account exists", models.ErrAccountExists, 409, "conflict", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockRegistrationService{
				CompleteRegistrationFunc: func(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error) {
					return nil, tt.serviceErr
				},
			}
			h := handlers.NewRegistrationHandler(mock, testLogger())

			body := handlers.CompleteRegistrationRequest{Email: "alice@example.com", Password: "x", Token: "tok"}
			w := httptest.NewRecorder()
			h.CompleteRegistration(w, handlers.NewTestRequest(t, "POST", "/registration/complete", body))

			resp := handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			assert.Equal(t, tt.details, resp.Details)
		})
	}
}
