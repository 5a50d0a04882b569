// Package service drives billing report files through parsing, reference
// provisioning and ledger reconciliation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/parser"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/resolver"
)

var (
	ErrInvalidRequest   = errors.New("invalid import request")
	ErrNoActiveContract = errors.New("no active contract")
	ErrUnknownProvider  = errors.New("report provider could not be determined")
)

const tracerName = "github.com/FACorreiaa/billing-ingest/service"

// Options tunes every import run of a service
type Options struct {
	// Locale is the number format of monthly reports. Pivot layouts carry their own.
	Locale    normalizer.Locale
	MatchMode resolver.MatchMode
	// RequireContract makes a missing active contract fatal for the file
	RequireContract bool
	// FileTimeout bounds the reconciliation loop; zero means no bound
	FileTimeout time.Duration
	// SkipZeroActivity overrides the per-kind default (skip for pivot reports, keep for monthly)
	SkipZeroActivity *bool
	// Delimiter of CSV input; zero detects it
	Delimiter    rune
	WriteLimiter *rate.Limiter
}

// FileRequest is one file to import
type FileRequest struct {
	Name string
	Data []byte
	Kind model.ReportKind
	// OwnerID is the organisation a prepaid report belongs to
	OwnerID uuid.UUID
	// ProviderID pins the provider of provider and monthly reports instead of
	// reading it from the filename or the rows
	ProviderID *uuid.UUID
	ImportedBy *uuid.UUID
	// Layout overrides the built-in layout of pivot reports
	Layout *parser.Layout
}

// AliasSource supplies operator-defined provider aliases
type AliasSource interface {
	List(ctx context.Context) ([]normalizer.ProviderAlias, error)
	RecordHit(ctx context.Context, id uuid.UUID) error
}

// Metrics receives import instrumentation
type Metrics interface {
	ObserveStage(kind, stage string, d time.Duration)
	RecordFile(kind, status string)
	AddRecords(kind, action string, n int)
}

// ImportService orchestrates report imports
type ImportService struct {
	refs    repository.ReferenceStore
	ledger  repository.Ledger
	audit   repository.AuditSink
	aliases AliasSource
	metrics Metrics
	opts    Options
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(refs repository.ReferenceStore, ledger repository.Ledger, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{
		refs:   refs,
		ledger: ledger,
		opts:   Options{Locale: normalizer.LocaleEuropean, MatchMode: resolver.MatchExact},
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
}

// WithAudit adds an activity log sink for created reference entities
func (s *ImportService) WithAudit(audit repository.AuditSink) *ImportService {
	s.audit = audit
	return s
}

// WithMetrics adds import instrumentation
func (s *ImportService) WithMetrics(m Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithAliasStore adds operator-defined provider aliases
func (s *ImportService) WithAliasStore(aliases AliasSource) *ImportService {
	s.aliases = aliases
	return s
}

// WithOptions replaces the run options
func (s *ImportService) WithOptions(opts Options) *ImportService {
	if opts.MatchMode == "" {
		opts.MatchMode = resolver.MatchExact
	}
	s.opts = opts
	return s
}

// Import runs one file through the pipeline. Row-level problems are reported
// in the outcome; the returned error is always a *model.FileError.
func (s *ImportService) Import(ctx context.Context, req FileRequest) (*model.ImportOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.Import", trace.WithAttributes(
		attribute.String("file.name", req.Name),
		attribute.String("report.kind", string(req.Kind)),
		attribute.Int("file.size", len(req.Data)),
	))
	defer span.End()

	run := newImportRun(s, req)
	outcome, err := run.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		s.recordFile(req.Kind, "fatal")
		s.logger.Error("import failed",
			slog.String("file", req.Name),
			slog.String("kind", string(req.Kind)),
			slog.Any("error", err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("records.inserted", outcome.Inserted),
		attribute.Int("records.failed", outcome.Failed),
		attribute.Bool("import.partial", outcome.Partial),
	)
	status := "done"
	if outcome.Partial {
		status = "partial"
	}
	s.recordFile(req.Kind, status)
	return outcome, nil
}

// stage runs one step of the import state machine inside its own span
func (s *ImportService) stage(ctx context.Context, kind model.ReportKind, stage model.Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ingest."+string(stage))
	defer span.End()

	s.logger.Debug("import stage", slog.String("kind", string(kind)), slog.String("stage", string(stage)))
	start := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.ObserveStage(string(kind), string(stage), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *ImportService) recordFile(kind model.ReportKind, status string) {
	if s.metrics != nil {
		s.metrics.RecordFile(string(kind), status)
	}
}

// canonicalizer builds a provider canonicalizer with the current aliases
func (s *ImportService) canonicalizer(ctx context.Context) *normalizer.ProviderCanonicalizer {
	canon := normalizer.NewProviderCanonicalizer()
	if s.aliases == nil {
		return canon
	}
	aliases, err := s.aliases.List(ctx)
	if err != nil {
		s.logger.Warn("failed to load provider aliases", slog.Any("error", err))
		return canon
	}
	return canon.WithAliases(aliases)
}

func (s *ImportService) aliasHit(ctx context.Context, alias normalizer.ProviderAlias) {
	if s.aliases == nil {
		return
	}
	if err := s.aliases.RecordHit(ctx, alias.ID); err != nil {
		s.logger.Warn("failed to record alias hit", slog.String("alias", alias.MatchPattern), slog.Any("error", err))
	}
}
