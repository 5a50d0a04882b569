package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/parser"
	"github.com/FACorreiaa/billing-ingest/pkg/storage"
)

// Importer imports one file
type Importer interface {
	Import(ctx context.Context, req FileRequest) (*model.ImportOutcome, error)
}

// Archive is the report inbox and the places files are moved to afterwards
type Archive interface {
	List(ctx context.Context) ([]*storage.FileInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
	MoveToProcessed(ctx context.Context, name string) (string, error)
	MoveToProviderArchive(ctx context.Context, name, provider string, year int) (string, error)
	MoveToErrors(ctx context.Context, name string) (string, error)
}

// BatchOptions select how inbox files are imported
type BatchOptions struct {
	Workers int
	// Kind is used for files whose name is not a provider report name.
	// Leave empty to import only provider reports.
	Kind    model.ReportKind
	OwnerID uuid.UUID
	// ImportedBy is recorded on every ledger record of the batch
	ImportedBy *uuid.UUID
}

// FileResult is the result of one inbox file
type FileResult struct {
	Name    string               `json:"name"`
	Kind    model.ReportKind     `json:"kind,omitempty"`
	Outcome *model.ImportOutcome `json:"outcome,omitempty"`
	Error   string               `json:"error,omitempty"`
	MovedTo string               `json:"moved_to,omitempty"`
}

// BatchTotals adds up the outcomes of a batch
type BatchTotals struct {
	Files      int `json:"files"`
	Imported   int `json:"imported"`
	Partial    int `json:"partial"`
	Fatal      int `json:"fatal"`
	Ignored    int `json:"ignored"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// BatchResult is the result of one inbox sweep
type BatchResult struct {
	Files      []FileResult  `json:"files"`
	Totals     BatchTotals   `json:"totals"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Took       time.Duration `json:"took"`
}

// BatchRunner imports every report waiting in the archive inbox
type BatchRunner struct {
	importer Importer
	archive  Archive
	opts     BatchOptions
	logger   *slog.Logger
}

// NewBatchRunner creates a new batch runner
func NewBatchRunner(importer Importer, archive Archive, opts BatchOptions, logger *slog.Logger) *BatchRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &BatchRunner{importer: importer, archive: archive, opts: opts, logger: logger}
}

// Run sweeps the inbox once. Files are imported concurrently up to the
// configured number of workers; a failing file never stops the others.
// Files cut short by ctx stay in the inbox for the next sweep.
func (b *BatchRunner) Run(ctx context.Context) (*BatchResult, error) {
	files, err := b.archive.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	result := &BatchResult{
		Files:     make([]FileResult, len(files)),
		StartedAt: time.Now(),
	}
	b.logger.Info("batch started", slog.Int("files", len(files)), slog.Int("workers", b.opts.Workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for i, f := range files {
		g.Go(func() error {
			result.Files[i] = b.runFile(gctx, f.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, f := range result.Files {
		result.Totals.add(f)
	}
	result.FinishedAt = time.Now()
	result.Took = result.FinishedAt.Sub(result.StartedAt)

	b.logger.Info("batch finished",
		slog.Int("files", result.Totals.Files),
		slog.Int("imported", result.Totals.Imported),
		slog.Int("partial", result.Totals.Partial),
		slog.Int("fatal", result.Totals.Fatal),
		slog.Int("inserted", result.Totals.Inserted),
		slog.Int("failed", result.Totals.Failed),
		slog.Duration("took", result.Took),
	)
	return result, nil
}

func (b *BatchRunner) runFile(ctx context.Context, name string) FileResult {
	res := FileResult{Name: name}
	logger := b.logger.With(slog.String("file", name))

	filename := parser.ParseReportFilename(name, nil)
	kind := b.opts.Kind
	switch {
	case parser.IsParkingReportName(name):
		kind = model.ReportParking
	case filename.Format != parser.FormatUnknown:
		kind = model.ReportProvider
	}
	if kind == "" {
		res.Error = "not a provider or parking report name and no default kind configured"
		logger.Debug("skipping inbox file", slog.String("reason", res.Error))
		return res
	}
	res.Kind = kind

	data, err := b.archive.Read(ctx, name)
	if err != nil {
		res.Error = err.Error()
		logger.Error("failed to read inbox file", slog.Any("error", err))
		return res
	}

	outcome, err := b.importer.Import(ctx, FileRequest{
		Name:       name,
		Data:       data,
		Kind:       kind,
		OwnerID:    b.opts.OwnerID,
		ImportedBy: b.opts.ImportedBy,
	})
	if err != nil {
		res.Error = err.Error()
		var fileErr *model.FileError
		if !errors.As(err, &fileErr) {
			return res
		}
		if res.MovedTo, err = b.archive.MoveToErrors(ctx, name); err != nil {
			logger.Error("failed to move file to errors", slog.Any("error", err))
		}
		return res
	}
	res.Outcome = outcome

	if outcome.Partial {
		logger.Warn("import cut short, file stays in the inbox")
		return res
	}

	switch kind {
	case model.ReportProvider:
		res.MovedTo, err = b.archive.MoveToProviderArchive(ctx, name, filename.Provider, filename.Year)
	case model.ReportParking:
		res.MovedTo, err = b.archive.MoveToProviderArchive(ctx, name, parser.ParkingOperator(name), filename.Year)
	default:
		res.MovedTo, err = b.archive.MoveToProcessed(ctx, name)
	}
	if err != nil {
		logger.Error("failed to archive imported file", slog.Any("error", err))
	}
	return res
}

func (t *BatchTotals) add(f FileResult) {
	t.Files++
	switch {
	case f.Kind == "":
		t.Ignored++
		return
	case f.Outcome == nil:
		t.Fatal++
		return
	case f.Outcome.Partial:
		t.Partial++
	default:
		t.Imported++
	}
	t.Inserted += f.Outcome.Inserted
	t.Updated += f.Outcome.Updated
	t.Duplicates += f.Outcome.Duplicates
	t.Skipped += f.Outcome.Skipped
	t.Failed += f.Outcome.Failed
}
