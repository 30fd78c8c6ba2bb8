package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/carepath/internal/auth"
	"github.com/BradenHooton/carepath/internal/background"
	"github.com/BradenHooton/carepath/internal/config"
	"github.com/BradenHooton/carepath/internal/database"
	"github.com/BradenHooton/carepath/internal/handlers"
	middlewareCustom "github.com/BradenHooton/carepath/internal/middleware"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/repositories"
	"github.com/BradenHooton/carepath/internal/routes"
	"github.com/BradenHooton/carepath/internal/services"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkghttp "github.com/BradenHooton/carepath/pkg/http"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.NewConnection(startupCtx, &cfg.Database, logger)
	if err != nil {
		startupCancel()
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		sqlDB := db.SQLFromPool()
		err := database.MigrateUp(startupCtx, sqlDB)
		sqlDB.Close()
		if err != nil {
			startupCancel()
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}
	startupCancel()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	registrationRepo := repositories.NewRegistrationRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewBcryptHasher(cfg.Registration.SecretHashCost)

	// Email delivery
	emailService, err := newEmailService(cfg.Email, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}
	notifier := services.NewEmailNotifier(emailService, cfg.Registration.PublicBaseURL, cfg.Email.SendTimeout, logger)

	// Initialize services
	policy := services.RegistrationPolicy{
		CodeTTL:                 cfg.Registration.CodeTTL,
		CompletionTokenTTL:      cfg.Registration.CompletionTokenTTL,
		DecisionWindow:          cfg.Registration.DecisionWindow,
		ResendCooldown:          cfg.Registration.ResendCooldown,
		MaxVerificationAttempts: cfg.Registration.MaxVerificationAttempts,
	}
	materializer := services.NewAccountMaterializer(db, userRepo, registrationRepo, hasher, tokenManager, logger)

	registrationService := services.NewRegistrationService(registrationRepo, userRepo, hasher, notifier, materializer, auditLogger, policy, logger)
	registrationService.SetStoreTimeout(cfg.Registration.StoreTimeout)

	approvalGate := services.NewApprovalGate(registrationRepo, userRepo, hasher, notifier, auditLogger, policy, logger)
	approvalGate.SetStoreTimeout(cfg.Registration.StoreTimeout)

	// Initialize handlers
	registrationHandler := handlers.NewRegistrationHandler(registrationService, logger)
	adminHandler := handlers.NewAdminRegistrationHandler(approvalGate, logger)
	healthHandler := handlers.NewHealthHandler(db, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, auditLogger, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Expiry sweep
	sweepManager, err := background.NewSweepManager(registrationRepo, cfg.Registration.SweepSchedule, auditLogger, logger)
	if err != nil {
		logger.Error("failed to schedule registration sweep", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup router
	ips := pkghttp.NewClientIPResolver(cfg.Server.TrustedProxies)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, registrationHandler, adminHandler, healthHandler, tokenManager, userRepo, ips)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepManager.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweepManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func newEmailService(cfg config.EmailConfig, logger *slog.Logger) (services.EmailService, error) {
	switch cfg.Provider {
	case config.EmailProviderSES:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ses, err := services.NewAWSSESEmailService(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
		if err != nil {
			return nil, err
		}
		return ses, nil
	case config.EmailProviderSendGrid:
		return services.NewSendGridEmailService(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName, logger), nil
	default:
		logger.Warn("email provider is log; messages will not be delivered")
		return services.NewLogEmailService(logger), nil
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD
// are set and no active administrator exists yet.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher services.SecretHasher, audit *pkglogger.AuditLogger, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	admins, err := userRepo.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if admins > 0 {
		logger.Info("admin user already exists")
		return nil
	}

	_, err = services.CreateAdmin(ctx, userRepo, hasher, audit, logger, services.AdminInput{
		Email:    adminEmail,
		Password: adminPassword,
	})
	if errors.Is(err, models.ErrAccountExists) {
		logger.Warn("ADMIN_EMAIL belongs to an existing non-admin account")
		return nil
	}
	return err
}
