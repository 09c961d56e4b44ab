package thresholds

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retifica-erp/retifica/internal/platform/db"
	"github.com/retifica-erp/retifica/internal/shared"
)

// ErrNotFound is returned when no threshold matches the id.
var ErrNotFound = fmt.Errorf("threshold %w", shared.ErrNotFound)

const thresholdColumns = `id, org_id, min_value::text, max_value::text, approval_type, approvers, label, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for approval_thresholds.
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

// WithTx runs callback in a read-committed transaction. Reads issued after
// LockOrg observe every mutation committed by the previous lock holder.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListActive returns the active thresholds of orgID ordered by min_value.
func (r *Repository) ListActive(ctx context.Context, orgID int64) ([]Threshold, error) {
	return listThresholds(ctx, r.pool, orgID, false)
}

// List returns thresholds of orgID, optionally including deactivated rows.
func (r *Repository) List(ctx context.Context, orgID int64, includeInactive bool) ([]Threshold, error) {
	return listThresholds(ctx, r.pool, orgID, includeInactive)
}

// Get returns a threshold by id.
func (r *Repository) Get(ctx context.Context, id int64) (Threshold, error) {
	return scanThreshold(r.pool.QueryRow(ctx, `SELECT `+thresholdColumns+` FROM approval_thresholds WHERE id=$1`, id))
}

// OrgIDs lists organizations that have at least one active threshold.
func (r *Repository) OrgIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT org_id FROM approval_thresholds WHERE is_active ORDER BY org_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepo) LockOrg(ctx context.Context, orgID int64) error {
	return db.AdvisoryXactLock(ctx, t.tx, shared.ThresholdLockKey(orgID))
}

func (t *txRepo) ListActive(ctx context.Context, orgID int64) ([]Threshold, error) {
	return listThresholds(ctx, t.tx, orgID, false)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Threshold, error) {
	return scanThreshold(t.tx.QueryRow(ctx, `SELECT `+thresholdColumns+` FROM approval_thresholds WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) Insert(ctx context.Context, th Threshold) (Threshold, error) {
	stored, err := scanThreshold(t.tx.QueryRow(ctx, `INSERT INTO approval_thresholds (org_id, min_value, max_value, approval_type, approvers, label, is_active, created_at, updated_at)
VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, TRUE, NOW(), NOW())
RETURNING `+thresholdColumns,
		th.OrgID, th.Range.Min.String(), maxArg(th.Range), string(th.Type), approversArg(th.Approvers), th.Label))
	return stored, overlapFromConstraint(th.Range, err)
}

func (t *txRepo) Update(ctx context.Context, th Threshold) (Threshold, error) {
	stored, err := scanThreshold(t.tx.QueryRow(ctx, `UPDATE approval_thresholds
SET min_value=$2::numeric, max_value=$3::numeric, approval_type=$4, approvers=$5, label=$6, updated_at=NOW()
WHERE id=$1 AND is_active
RETURNING `+thresholdColumns,
		th.ID, th.Range.Min.String(), maxArg(th.Range), string(th.Type), approversArg(th.Approvers), th.Label))
	return stored, overlapFromConstraint(th.Range, err)
}

// overlapFromConstraint maps the approval_thresholds_no_overlap constraint
// onto the error the service reports for overlaps it detects itself.
func overlapFromConstraint(candidate Range, err error) error {
	if db.ExclusionViolation(err) {
		return &shared.OverlapError{Candidate: candidate.String()}
	}
	return err
}

func (t *txRepo) Deactivate(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE approval_thresholds SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

func listThresholds(ctx context.Context, conn db.DBTX, orgID int64, includeInactive bool) ([]Threshold, error) {
	rows, err := conn.Query(ctx, `SELECT `+thresholdColumns+` FROM approval_thresholds
WHERE org_id=$1 AND (is_active OR $2)
ORDER BY min_value, id`, orgID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Threshold
	for rows.Next() {
		th, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func scanThreshold(row pgx.Row) (Threshold, error) {
	var (
		th       Threshold
		minText  string
		maxText  *string
		typeText string
	)
	err := row.Scan(&th.ID, &th.OrgID, &minText, &maxText, &typeText, &th.Approvers, &th.Label, &th.IsActive, &th.CreatedAt, &th.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Threshold{}, ErrNotFound
		}
		return Threshold{}, err
	}
	th.Type = ApprovalType(typeText)
	if th.Range.Min, err = decimal.NewFromString(minText); err != nil {
		return Threshold{}, fmt.Errorf("threshold %d min_value: %w", th.ID, err)
	}
	if maxText != nil {
		upper, err := decimal.NewFromString(*maxText)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %d max_value: %w", th.ID, err)
		}
		th.Range.Max = decimal.NewNullDecimal(upper)
	}
	if th.Approvers == nil {
		th.Approvers = []string{}
	}
	return th, nil
}

func maxArg(r Range) *string {
	if !r.Max.Valid {
		return nil
	}
	s := r.Max.Decimal.String()
	return &s
}

func approversArg(approvers []string) []string {
	if approvers == nil {
		return []string{}
	}
	return approvers
}
