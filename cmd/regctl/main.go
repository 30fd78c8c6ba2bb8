package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/carepath/internal/background"
	"github.com/BradenHooton/carepath/internal/config"
	"github.com/BradenHooton/carepath/internal/database"
	"github.com/BradenHooton/carepath/internal/repositories"
	"github.com/BradenHooton/carepath/internal/services"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/spf13/cobra"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

func main() {
	rootCmd := &cobra.Command{
		Use:           "regctl",
		Short:         "Operator tasks for the CarePath registration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(name string, fn func(ctx context.Context, dsn string) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Run migrate " + name,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadDatabase()
				if err != nil {
					return err
				}
				return fn(cmd.Context(), cfg.DSN())
			},
		}
	}

	cmd.AddCommand(run("up", withSQL(database.MigrateUp)))
	cmd.AddCommand(run("status", withSQL(database.MigrateStatus)))
	cmd.AddCommand(run("down", withSQL(database.MigrateDown)))
	return cmd
}

func withSQL(fn func(ctx context.Context, db *sql.DB) error) func(ctx context.Context, dsn string) error {
	return func(ctx context.Context, dsn string) error {
		db, err := database.OpenSQL(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, db)
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue registration requests once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				expired, err := background.Sweep(ctx,
					repositories.NewRegistrationRepository(db),
					pkglogger.NewAuditLogger(logger),
					time.Now().UTC(),
				)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d registration request(s)\n", len(expired))
				return nil
			})
		},
	}
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			firstName, _ := cmd.Flags().GetString("first-name")
			lastName, _ := cmd.Flags().GetString("last-name")
			passwordEnv, _ := cmd.Flags().GetString("password-env")

			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("set the admin password in $%s", passwordEnv)
			}

			return withPool(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				user, err := services.CreateAdmin(ctx,
					repositories.NewUserRepository(db),
					pkgauth.NewBcryptHasher(pkgauth.BcryptCost),
					pkglogger.NewAuditLogger(logger),
					logger,
					services.AdminInput{Email: email, Password: password, FirstName: firstName, LastName: lastName},
				)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created administrator %s (%s)\n", user.ID, user.Email)
				return nil
			})
		},
	}
	cmd.Flags().String("email", "", "Administrator email address")
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	cmd.Flags().String("password-env", "ADMIN_PASSWORD", "Environment variable holding the password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func withPool(ctx context.Context, fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}
