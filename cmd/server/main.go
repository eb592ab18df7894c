package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/durable"
	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/application/service"
	"github.com/apexfin/invoiceflow/internal/config"
	"github.com/apexfin/invoiceflow/internal/domain/validation"
	"github.com/apexfin/invoiceflow/internal/infrastructure/extraction"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/repository"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/sqlite"
	"github.com/apexfin/invoiceflow/internal/infrastructure/storage"
	httpadapter "github.com/apexfin/invoiceflow/internal/interfaces/http"
	"github.com/apexfin/invoiceflow/internal/report"
	"github.com/apexfin/invoiceflow/pkg/database"
	"github.com/apexfin/invoiceflow/pkg/utils"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting invoice workflow service", zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	sqlDB, err := database.Open(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer sqlDB.Close()

	migrator := database.NewMigrator(sqlDB, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	db := sqlite.NewDB(sqlDB, logger)

	fileStore, err := storage.NewLocalFileStore(cfg.Storage.UploadDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize file store", zap.Error(err))
	}

	lineItemRepo := repository.NewLineItemRepository(sqlDB, logger)
	invoiceRepo := repository.NewInvoiceRepository(sqlDB, lineItemRepo, logger)
	vendorRepo := repository.NewVendorRepository(sqlDB, logger)
	userRepo := repository.NewUserRepository(sqlDB, logger)
	runRepo := repository.NewWorkflowRunRepository(sqlDB, logger)

	var extractor port.DocumentExtractor
	if cfg.Extraction.APIKey != "" {
		extractor = extraction.NewOpenAIExtractor(cfg.Extraction.APIKey, cfg.Extraction.Model, logger)
	} else {
		logger.Warn("no extraction api key configured, using fixture extractor")
		extractor = &extraction.FixtureExtractor{}
	}

	runner := durable.NewRunner(runRepo, db, durable.RetryPolicy{
		MaxAttempts:    cfg.Workflow.MaxAttempts,
		InitialBackoff: cfg.Workflow.InitialBackoff,
		MaxBackoff:     cfg.Workflow.MaxBackoff,
	}, logger)

	intakeService := service.NewIntakeService(
		runner,
		fileStore,
		extractor,
		invoiceRepo,
		lineItemRepo,
		vendorRepo,
		validation.DefaultThresholds(),
		cfg.Extraction.Timeout,
		logger,
	)
	invoiceService := service.NewInvoiceService(invoiceRepo, userRepo, db, logger)
	vendorService := service.NewVendorService(vendorRepo, logger)
	exporter := report.NewExporter(invoiceRepo, vendorRepo, cfg.Report.CompanyName, logger)

	server := httpadapter.NewServer(
		httpadapter.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		intakeService,
		invoiceService,
		vendorService,
		userRepo,
		fileStore,
		exporter,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
