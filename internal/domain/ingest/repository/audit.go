package repository

import (
	"context"

	"github.com/FACorreiaa/billing-ingest/pkg/db"
)

// PostgresAuditSink writes activity log entries
type PostgresAuditSink struct {
	db db.DBTX
}

// NewPostgresAuditSink creates an audit sink
func NewPostgresAuditSink(conn db.DBTX) *PostgresAuditSink {
	return &PostgresAuditSink{db: conn}
}

// Record inserts one activity log entry
func (s *PostgresAuditSink) Record(ctx context.Context, e AuditEntry) error {
	query := `
		INSERT INTO activity_logs (entity_type, entity_id, action, description, severity, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if _, err := s.db.Exec(ctx, query, e.EntityType, e.EntityID, e.Action, e.Description, e.Severity, e.ActorID); err != nil {
		return translate(err, "record activity")
	}
	return nil
}
