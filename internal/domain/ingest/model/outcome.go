package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/billing-ingest/pkg/money"
)

// ProvisioningCounts reports what the reference-data pass did.
type ProvisioningCounts struct {
	Created       int       `json:"created"`
	Linked        int       `json:"linked"`
	Existing      int       `json:"existing"`
	ContractFound bool      `json:"contract_found"`
	ContractID    uuid.UUID `json:"contract_id,omitempty"`
}

// DateRange is the span of periods observed in a file.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ImportOutcome summarises the import of one file. It is returned to the
// caller and never persisted.
type ImportOutcome struct {
	RunID    uuid.UUID  `json:"run_id"`
	FileName string     `json:"file_name"`
	Kind     ReportKind `json:"kind"`

	// Success reports whether the run itself completed. A successful run may
	// still carry record errors; check Complete for data completeness.
	Success bool `json:"success"`
	Partial bool `json:"partial"`

	TotalRecords int `json:"total_records"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Duplicates   int `json:"duplicates"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`

	Errors   []RecordError `json:"errors"`
	Warnings []string      `json:"warnings,omitempty"`

	Provisioning ProvisioningCounts `json:"provisioning"`

	ServicesSeen int          `json:"services_seen"`
	PeriodsSeen  int          `json:"periods_seen"`
	DateRange    *DateRange   `json:"date_range,omitempty"`
	TotalAmount  *money.Money `json:"total_amount"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewImportOutcome starts an outcome for one file.
func NewImportOutcome(fileName string, kind ReportKind) *ImportOutcome {
	return &ImportOutcome{
		RunID:       uuid.New(),
		FileName:    fileName,
		Kind:        kind,
		Errors:      make([]RecordError, 0),
		TotalAmount: money.Zero(money.RSD),
		StartedAt:   time.Now(),
	}
}

// Attempted is the number of records that reached storage or failed trying.
func (o *ImportOutcome) Attempted() int {
	return o.Inserted + o.Updated + o.Duplicates + o.Failed
}

// Complete reports whether every record made it into the ledger.
func (o *ImportOutcome) Complete() bool {
	return len(o.Errors) == 0 && !o.Partial
}

// AddError appends a record error and counts it as failed.
func (o *ImportOutcome) AddError(err RecordError) {
	o.Errors = append(o.Errors, err)
	o.Failed++
}

// FailRecords appends one error that stands for n failed records, such as
// every period of a line item whose service could not be resolved.
func (o *ImportOutcome) FailRecords(err RecordError, n int) {
	o.Errors = append(o.Errors, err)
	o.Failed += max(n, 1)
}

// MarkPartial flags the outcome as cut short with remaining records never
// attempted. They are reported by one Canceled error, not counted as failed.
func (o *ImportOutcome) MarkPartial(remaining int, cause error) {
	o.Partial = true
	if remaining <= 0 {
		return
	}
	o.Errors = append(o.Errors, RecordError{
		ErrKind: KindCanceled,
		Message: fmt.Sprintf("%d records not attempted: %v", remaining, cause),
	})
}

// AddWarning appends a non-fatal observation.
func (o *ImportOutcome) AddWarning(msg string) {
	o.Warnings = append(o.Warnings, msg)
}

// ObserveDate widens the date range to include d.
func (o *ImportOutcome) ObserveDate(d time.Time) {
	if o.DateRange == nil {
		o.DateRange = &DateRange{From: d, To: d}
		return
	}
	if d.Before(o.DateRange.From) {
		o.DateRange.From = d
	}
	if d.After(o.DateRange.To) {
		o.DateRange.To = d
	}
}
