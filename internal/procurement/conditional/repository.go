package conditional

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retifica-erp/retifica/internal/platform/db"
	"github.com/retifica-erp/retifica/internal/shared"
)

// ErrOrderNotFound is returned when no conditional order matches.
var ErrOrderNotFound = fmt.Errorf("conditional order %w", shared.ErrNotFound)

const orderColumns = `id, org_id, number, supplier_id, expiry_date, extension_count, status, created_by`

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
		return &shared.PreconditionError{Entity: "conditional_order", State: "locked", Reason: "concurrent decision on the same order, retry"}
	}
	return err
}

// Get returns a conditional order by id.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM conditional_orders WHERE id=$1`, id))
}

// Extensions returns extension records ordered by sequence.
func (r *Repository) Extensions(ctx context.Context, orderID int64) ([]Extension, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, sequence, days_added, justification, previous_expiry, new_expiry, requested_by, created_at
FROM conditional_extensions WHERE order_id=$1 ORDER BY sequence`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Extension])
}

// ExpiringBetween lists open orders whose expiry falls in [from, to].
func (r *Repository) ExpiringBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM conditional_orders
WHERE status='open' AND expiry_date BETWEEN $1 AND $2 ORDER BY expiry_date, id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM conditional_orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateExpiry(ctx context.Context, id int64, prevCount int, expiry time.Time, count int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE conditional_orders SET expiry_date=$3, extension_count=$4, updated_at=NOW()
WHERE id=$1 AND extension_count=$2`, id, prevCount, expiry, count)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.PreconditionError{Entity: "conditional_order", ID: id, State: "extended", Reason: "extension count changed concurrently"}
	}
	return nil
}

func (t *txRepo) InsertExtension(ctx context.Context, ext Extension) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO conditional_extensions (id, order_id, sequence, days_added, justification, previous_expiry, new_expiry, requested_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ext.ID, ext.OrderID, ext.Sequence, ext.DaysAdded, ext.Justification, ext.PreviousExpiry, ext.NewExpiry, ext.RequestedBy, ext.CreatedAt)
	if db.UniqueViolation(err) {
		return &shared.PreconditionError{Entity: "conditional_order", ID: ext.OrderID, State: "extended", Reason: fmt.Sprintf("extension %d already recorded", ext.Sequence)}
	}
	return err
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrgID, &o.Number, &o.SupplierID, &o.ExpiryDate, &o.ExtensionCount, &status, &o.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}
