// Package repository provides storage for reference data, the transaction
// ledger and the activity log.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation is a uniqueness violation reported by storage
	ErrConstraintViolation = errors.New("unique constraint violation")
)

// OwnerKind identifies what a contract or ledger record belongs to
type OwnerKind string

const (
	OwnerProvider     OwnerKind = "PROVIDER"
	OwnerOrganization OwnerKind = "ORGANIZATION"
)

// ContractStatus is the lifecycle state of a contract
type ContractStatus string

const (
	ContractActive            ContractStatus = "ACTIVE"
	ContractRenewalInProgress ContractStatus = "RENEWAL_IN_PROGRESS"
	ContractExpired           ContractStatus = "EXPIRED"
	ContractTerminated        ContractStatus = "TERMINATED"
)

// ActiveStatuses are the statuses a contract may have and still accept services
var ActiveStatuses = []ContractStatus{ContractActive, ContractRenewalInProgress}

// Provider is a content or payment provider
type Provider struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is a billable service. Its type partitions services into domains.
type Service struct {
	ID          uuid.UUID
	Name        string
	Type        model.DomainType
	BillingType model.BillingType
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contract is an agreement with a provider or organisation
type Contract struct {
	ID             uuid.UUID
	OwnerKind      OwnerKind
	OwnerID        uuid.UUID
	Kind           string
	Status         ContractStatus
	Name           string
	ContractNumber string
	StartDate      time.Time
	EndDate        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ServiceContract links a service to a contract
type ServiceContract struct {
	ID          uuid.UUID
	ContractID  uuid.UUID
	ServiceID   uuid.UUID
	Description string
	CreatedAt   time.Time
}

// NaturalKey identifies one ledger record
type NaturalKey struct {
	OwnerID     uuid.UUID
	ServiceName string
	PeriodDate  time.Time
	BillingType model.BillingType
	Group       string
}

// Transaction is a ledger record
type Transaction struct {
	ID          uuid.UUID
	OwnerKind   OwnerKind
	OwnerID     uuid.UUID
	ProviderID  *uuid.UUID
	ServiceID   uuid.UUID
	ServiceName string
	ServiceCode string
	PeriodDate  time.Time
	BillingType model.BillingType
	Group       string

	UnitPrice decimal.Decimal
	Quantity  decimal.Decimal
	Amount    decimal.Decimal
	Measures  map[string]decimal.Decimal

	Description string
	SourceFile  string
	ImportedBy  *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the natural key of t
func (t *Transaction) Key() NaturalKey {
	return NaturalKey{
		OwnerID:     t.OwnerID,
		ServiceName: t.ServiceName,
		PeriodDate:  t.PeriodDate,
		BillingType: t.BillingType,
		Group:       t.Group,
	}
}

// ServiceTotal aggregates one service's ledger records over a date range
type ServiceTotal struct {
	ServiceID   uuid.UUID
	ServiceName string
	Quantity    decimal.Decimal
	Amount      decimal.Decimal
	Days        int
}

// Audit severities
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// AuditEntry is one activity log line
type AuditEntry struct {
	EntityType  string
	EntityID    uuid.UUID
	Action      string
	Description string
	Severity    string
	ActorID     *uuid.UUID
	CreatedAt   time.Time
}

// ReferenceStore persists providers, services, contracts and their links
type ReferenceStore interface {
	// FindProviderByName matches the name case-insensitively
	FindProviderByName(ctx context.Context, name string) (*Provider, error)
	// SearchProviders returns providers whose name contains fragment, case-insensitively
	SearchProviders(ctx context.Context, fragment string) ([]*Provider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error

	// FindServiceByName matches the name exactly
	FindServiceByName(ctx context.Context, name string) (*Service, error)
	CreateService(ctx context.Context, s *Service) error

	FindContract(ctx context.Context, ownerID uuid.UUID, name string) (*Contract, error)
	// LatestContract returns the most recently created contract of the owner
	// with one of the kinds (any kind when empty) and statuses
	LatestContract(ctx context.Context, ownerID uuid.UUID, kinds []string, statuses []ContractStatus) (*Contract, error)
	CreateContract(ctx context.Context, c *Contract) error

	FindServiceContract(ctx context.Context, contractID, serviceID uuid.UUID) (*ServiceContract, error)
	// LinkedServiceNames returns the names of every service linked to the contract
	LinkedServiceNames(ctx context.Context, contractID uuid.UUID) ([]string, error)
	CreateServiceContract(ctx context.Context, sc *ServiceContract) error
}

// Ledger persists transaction records
type Ledger interface {
	FindTransaction(ctx context.Context, key NaturalKey) (*Transaction, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	// UpdateTransaction changes the mutable fields of the record with t's natural key
	UpdateTransaction(ctx context.Context, t *Transaction) error
	// ServiceTotals sums the owner's records with from <= period < to per service
	ServiceTotals(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]ServiceTotal, error)
}

// AuditSink records activity log entries
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
