package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/billing-ingest/pkg/db"
)

const uniqueViolation = "23505"

// translate maps driver errors onto the package's sentinel errors
func translate(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("failed to %s: %w (%s)", op, ErrConstraintViolation, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// PostgresReferenceStore implements ReferenceStore using PostgreSQL
type PostgresReferenceStore struct {
	db db.DBTX
}

// NewPostgresReferenceStore creates a reference store over a pool or transaction
func NewPostgresReferenceStore(conn db.DBTX) *PostgresReferenceStore {
	return &PostgresReferenceStore{db: conn}
}

const providerColumns = `id, name, active, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	p := &Provider{}
	if err := row.Scan(&p.ID, &p.Name, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// FindProviderByName retrieves a provider by case-insensitive name
func (s *PostgresReferenceStore) FindProviderByName(ctx context.Context, name string) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE lower(name) = lower($1) LIMIT 1`

	p, err := scanProvider(s.db.QueryRow(ctx, query, name))
	if err != nil {
		return nil, translate(err, "find provider")
	}
	return p, nil
}

// SearchProviders lists providers whose name contains fragment
func (s *PostgresReferenceStore) SearchProviders(ctx context.Context, fragment string) ([]*Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY length(name), name`

	rows, err := s.db.Query(ctx, query, fragment)
	if err != nil {
		return nil, translate(err, "search providers")
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// GetProvider retrieves a provider by ID
func (s *PostgresReferenceStore) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`

	p, err := scanProvider(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, "get provider")
	}
	return p, nil
}

// CreateProvider inserts a new provider
func (s *PostgresReferenceStore) CreateProvider(ctx context.Context, p *Provider) error {
	query := `
		INSERT INTO providers (id, name, active)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, query, p.ID, p.Name, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translate(err, "create provider")
	}
	return nil
}

// FindServiceByName retrieves a service by exact name
func (s *PostgresReferenceStore) FindServiceByName(ctx context.Context, name string) (*Service, error) {
	query := `
		SELECT id, name, type, billing_type, COALESCE(description, ''), created_at, updated_at
		FROM services
		WHERE name = $1`

	svc := &Service{}
	err := s.db.QueryRow(ctx, query, name).Scan(
		&svc.ID,
		&svc.Name,
		&svc.Type,
		&svc.BillingType,
		&svc.Description,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err, "find service")
	}
	return svc, nil
}

// CreateService inserts a new service
func (s *PostgresReferenceStore) CreateService(ctx context.Context, svc *Service) error {
	query := `
		INSERT INTO services (id, name, type, billing_type, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, query,
		svc.ID,
		svc.Name,
		svc.Type,
		svc.BillingType,
		svc.Description,
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return translate(err, "create service")
	}
	return nil
}

const contractColumns = `id, owner_kind, owner_id, kind, status, name, contract_number, start_date, end_date, created_at, updated_at`

func scanContract(row pgx.Row) (*Contract, error) {
	c := &Contract{}
	err := row.Scan(
		&c.ID,
		&c.OwnerKind,
		&c.OwnerID,
		&c.Kind,
		&c.Status,
		&c.Name,
		&c.ContractNumber,
		&c.StartDate,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindContract retrieves an owner's contract by name
func (s *PostgresReferenceStore) FindContract(ctx context.Context, ownerID uuid.UUID, name string) (*Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE owner_id = $1 AND name = $2`

	c, err := scanContract(s.db.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		return nil, translate(err, "find contract")
	}
	return c, nil
}

// LatestContract retrieves the owner's most recently created contract in one of the statuses
func (s *PostgresReferenceStore) LatestContract(ctx context.Context, ownerID uuid.UUID, kinds []string, statuses []ContractStatus) (*Contract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM contracts
		WHERE owner_id = $1 AND status = ANY($2)`

	statusArgs := make([]string, len(statuses))
	for i, st := range statuses {
		statusArgs[i] = string(st)
	}
	args := []interface{}{ownerID, statusArgs}
	if len(kinds) > 0 {
		query += ` AND kind = ANY($3)`
		args = append(args, kinds)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	c, err := scanContract(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translate(err, "find active contract")
	}
	return c, nil
}

// CreateContract inserts a new contract
func (s *PostgresReferenceStore) CreateContract(ctx context.Context, c *Contract) error {
	query := `
		INSERT INTO contracts (id, owner_kind, owner_id, kind, status, name, contract_number, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, query,
		c.ID,
		c.OwnerKind,
		c.OwnerID,
		c.Kind,
		c.Status,
		c.Name,
		c.ContractNumber,
		c.StartDate,
		c.EndDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return translate(err, "create contract")
	}
	return nil
}

// FindServiceContract retrieves the link between a contract and a service
func (s *PostgresReferenceStore) FindServiceContract(ctx context.Context, contractID, serviceID uuid.UUID) (*ServiceContract, error) {
	query := `
		SELECT id, contract_id, service_id, COALESCE(description, ''), created_at
		FROM service_contracts
		WHERE contract_id = $1 AND service_id = $2`

	sc := &ServiceContract{}
	err := s.db.QueryRow(ctx, query, contractID, serviceID).Scan(
		&sc.ID,
		&sc.ContractID,
		&sc.ServiceID,
		&sc.Description,
		&sc.CreatedAt,
	)
	if err != nil {
		return nil, translate(err, "find service contract")
	}
	return sc, nil
}

// LinkedServiceNames lists the services linked to a contract
func (s *PostgresReferenceStore) LinkedServiceNames(ctx context.Context, contractID uuid.UUID) ([]string, error) {
	query := `
		SELECT s.name
		FROM service_contracts sc
		JOIN services s ON s.id = sc.service_id
		WHERE sc.contract_id = $1`

	rows, err := s.db.Query(ctx, query, contractID)
	if err != nil {
		return nil, translate(err, "list linked services")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan service name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateServiceContract links a service to a contract
func (s *PostgresReferenceStore) CreateServiceContract(ctx context.Context, sc *ServiceContract) error {
	query := `
		INSERT INTO service_contracts (id, contract_id, service_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, query, sc.ID, sc.ContractID, sc.ServiceID, sc.Description).Scan(&sc.CreatedAt)
	if err != nil {
		return translate(err, "create service contract")
	}
	return nil
}
