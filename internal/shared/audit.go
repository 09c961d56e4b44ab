package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/retifica-erp/retifica/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	OrgID    int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	conn db.DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn db.DBTX) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// Record persists the log entry using the logger's own connection.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	return RecordAudit(ctx, l.conn, log)
}

// RecordAudit persists the log entry on conn, typically an open transaction so
// that the audit row commits together with the change it describes.
func RecordAudit(ctx context.Context, conn db.DBTX, log AuditLog) error {
	if conn == nil {
		return errors.New("audit connection not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = conn.Exec(ctx, `INSERT INTO audit_logs (actor_id, org_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.ActorID, log.OrgID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
