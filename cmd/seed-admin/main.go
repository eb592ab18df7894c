// Command seed-admin inserts an initial admin user so the HTTP API has an
// identity that can fire admin-gated actions on a fresh database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/config"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/repository"
	"github.com/apexfin/invoiceflow/pkg/database"
	"github.com/apexfin/invoiceflow/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	email := flag.String("email", "", "admin email (required)")
	name := flag.String("name", "Administrator", "admin display name")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: seed-admin -email admin@example.com [-name \"Full Name\"]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      "info",
		OutputPath: "stdout",
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	users := repository.NewUserRepository(db, logger)
	ctx := context.Background()

	existing, err := users.GetByEmail(ctx, *email)
	if err != nil {
		logger.Fatal("failed to look up user", zap.Error(err))
	}
	if existing != nil {
		logger.Info("user already exists, nothing to do",
			zap.Int64("id", existing.ID),
			zap.String("email", existing.Email),
			zap.String("role", existing.Role))
		return
	}

	user := &entity.User{
		Email: *email,
		Name:  *name,
		Role:  entity.RoleAdmin,
	}
	if err := users.Create(ctx, user); err != nil {
		logger.Fatal("failed to create admin user", zap.Error(err))
	}

	logger.Info("admin user created",
		zap.Int64("id", user.ID),
		zap.String("email", user.Email))
}
