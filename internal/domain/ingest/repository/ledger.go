package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/pkg/db"
)

// PostgresLedger implements Ledger using PostgreSQL. Numeric columns are
// scanned through decimal.Decimal's sql.Scanner.
type PostgresLedger struct {
	db db.DBTX
}

// NewPostgresLedger creates a ledger over a pool or transaction
func NewPostgresLedger(conn db.DBTX) *PostgresLedger {
	return &PostgresLedger{db: conn}
}

// FindTransaction retrieves the record with the given natural key
func (l *PostgresLedger) FindTransaction(ctx context.Context, key NaturalKey) (*Transaction, error) {
	query := `
		SELECT id, owner_kind, owner_id, provider_id, service_id, service_name, service_code,
		       period_date, billing_type, group_name, unit_price, quantity, amount, measures,
		       COALESCE(description, ''), COALESCE(source_file, ''), imported_by, created_at, updated_at
		FROM transactions
		WHERE owner_id = $1 AND service_name = $2 AND period_date = $3 AND billing_type = $4 AND group_name = $5`

	t := &Transaction{}
	var measures []byte
	err := l.db.QueryRow(ctx, query,
		key.OwnerID,
		key.ServiceName,
		key.PeriodDate,
		key.BillingType,
		key.Group,
	).Scan(
		&t.ID,
		&t.OwnerKind,
		&t.OwnerID,
		&t.ProviderID,
		&t.ServiceID,
		&t.ServiceName,
		&t.ServiceCode,
		&t.PeriodDate,
		&t.BillingType,
		&t.Group,
		&t.UnitPrice,
		&t.Quantity,
		&t.Amount,
		&measures,
		&t.Description,
		&t.SourceFile,
		&t.ImportedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err, "find transaction")
	}

	if t.Measures, err = decodeMeasures(measures); err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTransaction inserts a new record
func (l *PostgresLedger) InsertTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, owner_kind, owner_id, provider_id, service_id, service_name, service_code,
			period_date, billing_type, group_name, unit_price, quantity, amount, measures,
			description, source_file, imported_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	measures, err := encodeMeasures(t.Measures)
	if err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	err = l.db.QueryRow(ctx, query,
		t.ID,
		t.OwnerKind,
		t.OwnerID,
		t.ProviderID,
		t.ServiceID,
		t.ServiceName,
		t.ServiceCode,
		t.PeriodDate,
		t.BillingType,
		t.Group,
		t.UnitPrice,
		t.Quantity,
		t.Amount,
		measures,
		t.Description,
		t.SourceFile,
		t.ImportedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return translate(err, "insert transaction")
	}
	return nil
}

// UpdateTransaction overwrites price, quantity, amount, measures and import
// provenance. Natural key columns are never changed.
func (l *PostgresLedger) UpdateTransaction(ctx context.Context, t *Transaction) error {
	query := `
		UPDATE transactions
		SET unit_price = $6, quantity = $7, amount = $8, measures = $9,
		    service_code = $10, description = $11, source_file = $12, imported_by = $13,
		    updated_at = now()
		WHERE owner_id = $1 AND service_name = $2 AND period_date = $3 AND billing_type = $4 AND group_name = $5
		RETURNING id, updated_at`

	measures, err := encodeMeasures(t.Measures)
	if err != nil {
		return err
	}

	err = l.db.QueryRow(ctx, query,
		t.OwnerID,
		t.ServiceName,
		t.PeriodDate,
		t.BillingType,
		t.Group,
		t.UnitPrice,
		t.Quantity,
		t.Amount,
		measures,
		t.ServiceCode,
		t.Description,
		t.SourceFile,
		t.ImportedBy,
	).Scan(&t.ID, &t.UpdatedAt)
	if err != nil {
		return translate(err, "update transaction")
	}
	return nil
}

// ServiceTotals sums quantity and amount per service for from <= period_date < to
func (l *PostgresLedger) ServiceTotals(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]ServiceTotal, error) {
	query := `
		SELECT service_id, service_name,
		       COALESCE(SUM(quantity), 0), COALESCE(SUM(amount), 0),
		       COUNT(DISTINCT period_date)
		FROM transactions
		WHERE owner_id = $1 AND period_date >= $2 AND period_date < $3
		GROUP BY service_id, service_name
		ORDER BY service_name`

	rows, err := l.db.Query(ctx, query, ownerID, from, to)
	if err != nil {
		return nil, translate(err, "sum transactions")
	}
	defer rows.Close()

	var totals []ServiceTotal
	for rows.Next() {
		var st ServiceTotal
		var days int64
		if err := rows.Scan(&st.ServiceID, &st.ServiceName, &st.Quantity, &st.Amount, &days); err != nil {
			return nil, fmt.Errorf("failed to scan service total: %w", err)
		}
		st.Days = int(days)
		totals = append(totals, st)
	}
	return totals, rows.Err()
}

func encodeMeasures(m map[string]decimal.Decimal) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode measures: %w", err)
	}
	return b, nil
}

func decodeMeasures(b []byte) (map[string]decimal.Decimal, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]decimal.Decimal
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode measures: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
