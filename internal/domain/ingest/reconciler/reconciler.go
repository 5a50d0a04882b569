// Package reconciler writes period slices of parsed line items into the
// transaction ledger idempotently.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
)

// Action is what Reconcile did with a slice
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionDuplicate Action = "duplicate"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Options configures a reconciler
type Options struct {
	// SkipZeroActivity skips slices with zero quantity and zero amount
	SkipZeroActivity bool
	// Limiter, when set, paces storage round trips
	Limiter *rate.Limiter
}

// Slice is the activity of one service in one period, ready to be written
type Slice struct {
	OwnerKind   repository.OwnerKind
	OwnerID     uuid.UUID
	ProviderID  *uuid.UUID
	ServiceID   uuid.UUID
	ServiceName string
	ServiceCode string
	Period      time.Time
	BillingType model.BillingType
	Group       string

	UnitPrice decimal.Decimal
	Quantity  decimal.Decimal
	Amount    decimal.Decimal
	Measures  map[string]decimal.Decimal

	Description string
	SourceFile  string
	ImportedBy  *uuid.UUID
}

// Key returns the ledger natural key of the slice
func (s Slice) Key() repository.NaturalKey {
	return repository.NaturalKey{
		OwnerID:     s.OwnerID,
		ServiceName: s.ServiceName,
		PeriodDate:  s.Period,
		BillingType: s.BillingType,
		Group:       s.Group,
	}
}

// IsZero reports whether the slice carries no activity
func (s Slice) IsZero() bool {
	return s.Quantity.IsZero() && s.Amount.IsZero()
}

func (s Slice) transaction() *repository.Transaction {
	return &repository.Transaction{
		OwnerKind:   s.OwnerKind,
		OwnerID:     s.OwnerID,
		ProviderID:  s.ProviderID,
		ServiceID:   s.ServiceID,
		ServiceName: s.ServiceName,
		ServiceCode: s.ServiceCode,
		PeriodDate:  s.Period,
		BillingType: s.BillingType,
		Group:       s.Group,
		UnitPrice:   s.UnitPrice,
		Quantity:    s.Quantity,
		Amount:      s.Amount,
		Measures:    s.Measures,
		Description: s.Description,
		SourceFile:  s.SourceFile,
		ImportedBy:  s.ImportedBy,
	}
}

// Result is the outcome of reconciling one slice. Err is set for ActionFailed.
type Result struct {
	Action Action
	Err    *model.RecordError
}

// Reconciler upserts slices by natural key
type Reconciler struct {
	ledger repository.Ledger
	opts   Options
	logger *slog.Logger
}

// New creates a reconciler
func New(ledger repository.Ledger, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{ledger: ledger, opts: opts, logger: logger}
}

// Reconcile writes one slice: insert when the key is absent, nothing when
// the stored record already holds the same values, update otherwise. Errors
// are returned in the result, never as a panic or an aborted loop.
func (r *Reconciler) Reconcile(ctx context.Context, s Slice) Result {
	if err := ctx.Err(); err != nil {
		return r.fail(s, model.KindCanceled, err)
	}
	if r.opts.SkipZeroActivity && s.IsZero() {
		return Result{Action: ActionSkipped}
	}
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx); err != nil {
			return r.fail(s, model.KindCanceled, err)
		}
	}

	existing, err := r.ledger.FindTransaction(ctx, s.Key())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return r.insert(ctx, s)
	case err != nil:
		return r.fail(s, kindOf(ctx, err), err)
	}

	if sameValues(existing, s) {
		return Result{Action: ActionDuplicate}
	}

	if err := r.ledger.UpdateTransaction(ctx, s.transaction()); err != nil {
		return r.fail(s, kindOf(ctx, err), err)
	}
	return Result{Action: ActionUpdated}
}

func (r *Reconciler) insert(ctx context.Context, s Slice) Result {
	err := r.ledger.InsertTransaction(ctx, s.transaction())
	if errors.Is(err, repository.ErrConstraintViolation) {
		r.logger.Debug("concurrent insert of the same record, counted as duplicate",
			slog.String("service", s.ServiceName),
			slog.Time("period", s.Period),
		)
		return Result{Action: ActionDuplicate}
	}
	if err != nil {
		return r.fail(s, kindOf(ctx, err), err)
	}
	return Result{Action: ActionInserted}
}

func (r *Reconciler) fail(s Slice, kind model.ErrorKind, err error) Result {
	period := s.Period
	rec := model.NewRecordError(kind, s.ServiceName, &period, fmt.Errorf("failed to write record: %w", err))
	if kind != model.KindCanceled {
		r.logger.Warn("record failed",
			slog.String("service", s.ServiceName),
			slog.Time("period", s.Period),
			slog.Any("error", err),
		)
	}
	return Result{Action: ActionFailed, Err: &rec}
}

func kindOf(ctx context.Context, err error) model.ErrorKind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.KindCanceled
	}
	return model.KindStorageFailure
}

func sameValues(t *repository.Transaction, s Slice) bool {
	if !t.UnitPrice.Equal(s.UnitPrice) || !t.Quantity.Equal(s.Quantity) || !t.Amount.Equal(s.Amount) {
		return false
	}
	if len(t.Measures) != len(s.Measures) {
		return false
	}
	for k, v := range s.Measures {
		if stored, ok := t.Measures[k]; !ok || !stored.Equal(v) {
			return false
		}
	}
	return true
}
