package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retifica-erp/retifica/internal/platform/db"
	"github.com/retifica-erp/retifica/internal/shared"
)

// ErrOrderNotFound is returned when no purchase order matches.
var ErrOrderNotFound = fmt.Errorf("purchase order %w", shared.ErrNotFound)

const orderColumns = `id, org_id, number, total_value::text, status, created_by, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs callback in a read-committed transaction. LockOrder waits for
// concurrent decisions and later reads see their committed rows.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.ConcurrentUpdate(err) {
		return &shared.PreconditionError{Entity: "purchase_order", State: "locked", Reason: "concurrent decision on the same order, retry"}
	}
	return err
}

// GetOrder returns a purchase order by id.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
}

// History returns approval events of an order in insertion order.
func (r *Repository) History(ctx context.Context, orderID int64) ([]HistoryEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, action, required_level, performed_by, performed_at, rejection_reason, notes
FROM approval_history WHERE order_id=$1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEvent
	for rows.Next() {
		var (
			e      HistoryEvent
			action string
			level  string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &action, &level, &e.PerformedBy, &e.PerformedAt, &e.RejectionReason, &e.Notes); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.RequiredLevel = RequiredLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListIdlePending lists non-escalated pending orders without history activity
// since idleSince, ordered by (last activity, id) and starting after cursor.
func (r *Repository) ListIdlePending(ctx context.Context, idleSince time.Time, after IdleCursor, limit int) ([]IdleOrder, error) {
	if limit <= 0 {
		limit = defaultIdlePage
	}
	rows, err := r.pool.Query(ctx, `SELECT po.id, po.org_id, po.number, po.total_value::text, po.status, po.created_by, po.updated_at,
       COALESCE(MAX(h.performed_at), po.updated_at) AS last_activity
FROM purchase_orders po
LEFT JOIN approval_history h ON h.order_id = po.id
WHERE po.status = 'pending_approval'
  AND NOT EXISTS (SELECT 1 FROM approval_escalations e WHERE e.order_id = po.id)
GROUP BY po.id
HAVING COALESCE(MAX(h.performed_at), po.updated_at) <= $1
   AND (COALESCE(MAX(h.performed_at), po.updated_at), po.id) > ($2::timestamptz, $3::bigint)
ORDER BY last_activity, po.id
LIMIT $4`, idleSince, after.LastActivity, after.OrderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IdleOrder
	for rows.Next() {
		var (
			item   IdleOrder
			total  string
			status string
		)
		o := &item.Order
		if err := rows.Scan(&o.ID, &o.OrgID, &o.Number, &total, &status, &o.CreatedBy, &o.UpdatedAt, &item.LastActivity); err != nil {
			return nil, err
		}
		if o.TotalValue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("purchase order %d total_value: %w", o.ID, err)
		}
		o.Status = Status(status)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) Votes(ctx context.Context, orderID int64) ([]Vote, error) {
	rows, err := t.tx.Query(ctx, `SELECT order_id, actor_id, approver, position, voted_at FROM approval_votes WHERE order_id=$1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Vote])
}

func (t *txRepo) Escalation(ctx context.Context, orderID int64) (*Escalation, error) {
	var (
		e     Escalation
		level string
	)
	err := t.tx.QueryRow(ctx, `SELECT order_id, approvers, level, reason, escalated_by, escalated_at FROM approval_escalations WHERE order_id=$1`, orderID).
		Scan(&e.OrderID, &e.Approvers, &level, &e.Reason, &e.EscalatedBy, &e.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Level = RequiredLevel(level)
	return &e, nil
}

func (t *txRepo) InsertVote(ctx context.Context, v Vote) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO approval_votes (order_id, actor_id, approver, position, voted_at) VALUES ($1, $2, $3, $4, $5)`,
		v.OrderID, v.ActorID, v.Approver, v.Position, v.At)
	if db.UniqueViolation(err) {
		return &shared.PreconditionError{Entity: "purchase_order", ID: v.OrderID, State: string(StatusPendingApproval), Reason: "vote already recorded"}
	}
	return err
}

func (t *txRepo) InsertEscalation(ctx context.Context, e Escalation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO approval_escalations (order_id, approvers, level, reason, escalated_by, escalated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.OrderID, e.Approvers, string(e.Level), e.Reason, e.EscalatedBy, e.At)
	if db.UniqueViolation(err) {
		return &shared.PreconditionError{Entity: "purchase_order", ID: e.OrderID, State: string(StatusPendingApproval), Reason: "already escalated"}
	}
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.PreconditionError{Entity: "purchase_order", ID: id, State: string(from), Reason: "status changed concurrently"}
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, events []HistoryEvent) error {
	for _, e := range events {
		if e.Action == ActionRejected && (e.RejectionReason == nil || *e.RejectionReason == "") {
			return shared.NewValidationError("rejection_reason", "is required")
		}
		_, err := t.tx.Exec(ctx, `INSERT INTO approval_history (id, order_id, action, required_level, performed_by, performed_at, rejection_reason, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.OrderID, string(e.Action), string(e.RequiredLevel), e.PerformedBy, e.PerformedAt, e.RejectionReason, e.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.OrgID, &o.Number, &total, &status, &o.CreatedBy, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	var err error
	if o.TotalValue, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("purchase order %d total_value: %w", o.ID, err)
	}
	o.Status = Status(status)
	return o, nil
}
