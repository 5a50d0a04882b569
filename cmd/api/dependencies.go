package api

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/handler"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/resolver"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
	"github.com/FACorreiaa/billing-ingest/pkg/config"
	"github.com/FACorreiaa/billing-ingest/pkg/cron"
	"github.com/FACorreiaa/billing-ingest/pkg/db"
	"github.com/FACorreiaa/billing-ingest/pkg/metrics"
	"github.com/FACorreiaa/billing-ingest/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Repositories
	ReferenceStore *repository.PostgresReferenceStore
	Ledger         *repository.PostgresLedger
	AuditSink      *repository.PostgresAuditSink
	AliasStore     *normalizer.AliasStore

	// Services
	ImportService *service.ImportService
	Archive       *storage.LocalArchive
	BatchRunner   *service.BatchRunner
	Scheduler     *cron.Scheduler

	// Handlers
	ImportHandler *handler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := OpenDatabase(d.Config.Database, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// OpenDatabase connects the pool described by cfg
func OpenDatabase(cfg config.DatabaseConfig, logger *slog.Logger) (*db.DB, error) {
	return db.New(db.Config{
		DSN:             cfg.DSN(),
		MaxConns:        int32(cfg.MaxConns),
		MinConns:        int32(cfg.MinConns),
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	}, logger)
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ReferenceStore = repository.NewPostgresReferenceStore(d.DB.Pool)
	d.Ledger = repository.NewPostgresLedger(d.DB.Pool)
	d.AuditSink = repository.NewPostgresAuditSink(d.DB.Pool)
	d.AliasStore = normalizer.NewAliasStore(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	opts, err := ImportOptions(d.Config.Ingest)
	if err != nil {
		return err
	}

	if d.Config.Observability.MetricsEnabled {
		d.Metrics = metrics.New(nil)
	}

	d.ImportService = service.NewImportService(d.ReferenceStore, d.Ledger, d.Logger).
		WithAudit(d.AuditSink).
		WithAliasStore(d.AliasStore).
		WithOptions(opts)
	if d.Metrics != nil {
		d.ImportService.WithMetrics(d.Metrics)
	}

	d.Archive, err = storage.NewLocalArchive(ArchiveConfig(d.Config.Ingest))
	if err != nil {
		return fmt.Errorf("failed to init report archive: %w", err)
	}

	batchOpts, err := BatchOptions(d.Config.Ingest)
	if err != nil {
		return err
	}
	d.BatchRunner = service.NewBatchRunner(d.ImportService, d.Archive, batchOpts, d.Logger)

	if d.Config.Schedule.Enabled {
		d.Scheduler = cron.NewScheduler(d.Config.Schedule.Spec, d.BatchRunner, d.Logger)
		if d.Metrics != nil {
			d.Scheduler.WithObserver(d.Metrics)
		}
	}

	d.Logger.Info("services initialized",
		slog.String("inbox_root", d.Config.Ingest.Root),
		slog.Bool("schedule_enabled", d.Config.Schedule.Enabled),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = handler.NewImportHandler(d.ImportService, d.Logger).
		WithMaxUpload(d.Config.Server.MaxUploadBytes).
		WithInbox(d.Archive)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// ImportOptions maps the ingest configuration to import service options
func ImportOptions(cfg config.IngestConfig) (service.Options, error) {
	locale, err := normalizer.ParseLocale(cfg.Locale)
	if err != nil {
		return service.Options{}, err
	}

	opts := service.Options{
		Locale:           locale,
		MatchMode:        resolver.MatchMode(strings.ToLower(cfg.MatchMode)),
		RequireContract:  cfg.RequireContract,
		FileTimeout:      cfg.FileTimeout,
		SkipZeroActivity: cfg.SkipZero(),
		Delimiter:        cfg.DelimiterRune(),
	}
	if cfg.WriteRatePerSecond > 0 {
		opts.WriteLimiter = rate.NewLimiter(rate.Limit(cfg.WriteRatePerSecond), cfg.WriteRatePerSecond)
	}
	return opts, nil
}

// BatchOptions maps the ingest configuration to inbox sweep options
func BatchOptions(cfg config.IngestConfig) (service.BatchOptions, error) {
	opts := service.BatchOptions{Workers: cfg.Workers}

	if cfg.DefaultKind != "" {
		kind, ok := model.ParseReportKind(cfg.DefaultKind)
		if !ok {
			return opts, fmt.Errorf("INGEST_DEFAULT_KIND: unknown report kind %q", cfg.DefaultKind)
		}
		opts.Kind = kind
	}
	if cfg.DefaultOwnerID != "" {
		id, err := uuid.Parse(cfg.DefaultOwnerID)
		if err != nil {
			return opts, fmt.Errorf("INGEST_DEFAULT_OWNER_ID: %w", err)
		}
		opts.OwnerID = id
	}
	return opts, nil
}

// ArchiveConfig maps the ingest configuration to the report archive layout
func ArchiveConfig(cfg config.IngestConfig) storage.Config {
	return storage.Config{
		Root:         cfg.Root,
		InboxDir:     cfg.InboxDir,
		ProcessedDir: cfg.ProcessedDir,
		ErrorsDir:    cfg.ErrorsDir,
		ProvidersDir: cfg.ProvidersDir,
	}
}
