package routes

import (
	"github.com/BradenHooton/carepath/internal/auth"
	"github.com/BradenHooton/carepath/internal/handlers"
	"github.com/BradenHooton/carepath/internal/middleware"
	"github.com/BradenHooton/carepath/internal/models"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	registrationHandler *handlers.RegistrationHandler,
	adminHandler *handlers.AdminRegistrationHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *auth.TokenManager,
	userRepo auth.UserRepository,
	ips *pkghttp.ClientIPResolver,
) {
	router.Get("/health", healthHandler.Health)

	// Public registration routes
	registrationLimit := middleware.RateLimitByIP(middleware.DefaultRegistrationRateLimit(), ips)
	router.Route("/registration", func(r chi.Router) {
		r.With(registrationLimit).Post("/requests", registrationHandler.RequestRegistration)
		r.With(middleware.RateLimitByIP(middleware.DefaultVerificationRateLimit(), ips)).Post("/verify", registrationHandler.VerifyEmail)
		r.With(registrationLimit).Post("/status", registrationHandler.GetStatus)
		r.With(registrationLimit).Post("/complete", registrationHandler.CompleteRegistration)
	})

	// Admin review queue
	router.Route("/admin/registrations", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(auth.RequireRole(userRepo, models.RoleAdmin))
		r.Use(middleware.RateLimitByUser(middleware.DefaultAdminRateLimit(), ips))

		r.Get("/", adminHandler.ListRegistrations)
		r.Get("/{id}", adminHandler.GetRegistration)
		r.Post("/{id}/approve", adminHandler.Approve)
		r.Post("/{id}/reject", adminHandler.Reject)
		r.Post("/{id}/resend-approval", adminHandler.ResendApproval)
	})
}
