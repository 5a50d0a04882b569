package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies every failure the pipeline can report.
type ErrorKind string

const (
	KindMalformedCell          ErrorKind = "malformed_cell"
	KindSectionBoundaryReached ErrorKind = "section_boundary_reached"
	KindEntityConflict         ErrorKind = "entity_conflict"
	KindConstraintViolation    ErrorKind = "constraint_violation"
	KindStorageFailure         ErrorKind = "storage_failure"
	KindFatalFileError         ErrorKind = "fatal_file_error"
	KindCanceled               ErrorKind = "canceled"
)

// Kinded is implemented by errors that carry an ErrorKind.
type Kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of err, or KindStorageFailure for anything unclassified.
func KindOf(err error) ErrorKind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindStorageFailure
}

// RecordError describes a recoverable problem with a single record.
// It carries enough context to locate the offending row in the source file.
type RecordError struct {
	ErrKind  ErrorKind  `json:"kind"`
	Sheet    string     `json:"sheet,omitempty"`
	Row      int        `json:"row,omitempty"`
	Entity   string     `json:"entity,omitempty"`
	Period   *time.Time `json:"period,omitempty"`
	RawValue string     `json:"raw_value,omitempty"`
	Message  string     `json:"message"`
}

func (e RecordError) Error() string {
	var b strings.Builder
	if e.Sheet != "" {
		fmt.Fprintf(&b, "sheet %s, ", e.Sheet)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, "row %d, ", e.Row)
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, "%q ", e.Entity)
	}
	if e.Period != nil {
		fmt.Fprintf(&b, "on %s ", e.Period.Format("2006-01-02"))
	}
	if b.Len() > 0 {
		return strings.TrimRight(b.String(), ", ") + ": " + e.Message
	}
	return e.Message
}

// Kind implements Kinded.
func (e RecordError) Kind() ErrorKind {
	return e.ErrKind
}

// NewRecordError builds a RecordError of the given kind from an underlying error.
func NewRecordError(kind ErrorKind, entity string, period *time.Time, err error) RecordError {
	return RecordError{
		ErrKind: kind,
		Entity:  entity,
		Period:  period,
		Message: err.Error(),
	}
}

// Stage names a step of the per-file import state machine.
type Stage string

const (
	StageReading      Stage = "reading"
	StageParsing      Stage = "parsing"
	StageProvisioning Stage = "provisioning_references"
	StageReconciling  Stage = "reconciling"
	StageSummarizing  Stage = "summarizing"
	StageDone         Stage = "done"
	StageFileError    Stage = "file_error"
)

// FileError aborts the import of one file. It is the only error an import returns.
type FileError struct {
	Stage Stage
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("import failed while %s: %v", strings.ReplaceAll(string(e.Stage), "_", " "), e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Kind implements Kinded.
func (e *FileError) Kind() ErrorKind {
	return KindFatalFileError
}
