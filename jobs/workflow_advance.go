package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/retifica-erp/retifica/internal/jobs"
	"github.com/retifica-erp/retifica/internal/procurement/approvals"
)

// WorkflowLog records fulfilment hand-offs. Recording the same order twice
// must be a no-op.
type WorkflowLog interface {
	RecordApproved(ctx context.Context, evt approvals.ApprovedEvent) (bool, error)
}

// WorkflowAdvanceJob hands approved orders to fulfilment.
type WorkflowAdvanceJob struct {
	Log     WorkflowLog
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWorkflowAdvanceJob constructs the job handler.
func NewWorkflowAdvanceJob(log WorkflowLog, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowAdvanceJob {
	return &WorkflowAdvanceJob{Log: log, Logger: logger, Metrics: metrics}
}

// Handle executes the hand-off.
func (j *WorkflowAdvanceJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Log == nil {
		return errors.New("workflow advance: dependencies not configured")
	}
	var evt approvals.ApprovedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil || evt.OrderID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskWorkflowAdvance)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.Int64("order_id", evt.OrderID), slog.String("number", evt.Number))
	inserted, err := j.Log.RecordApproved(ctx, evt)
	if err != nil {
		resultErr = err
		logger.Error("record workflow event", slog.Any("error", err))
		return resultErr
	}
	if !inserted {
		logger.Info("order already handed to fulfilment")
		return resultErr
	}
	j.metrics().AddItems(TaskWorkflowAdvance, "advanced", 1)
	logger.Info("order handed to fulfilment", slog.String("total_value", evt.TotalValue.StringFixed(2)))
	return resultErr
}

func (j *WorkflowAdvanceJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WorkflowAdvanceJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkflowAdvance))
	}
	return slog.Default().With(slog.String("job", TaskWorkflowAdvance))
}

// PGWorkflowLog stores hand-offs in workflow_events.
type PGWorkflowLog struct {
	pool *pgxpool.Pool
}

// NewPGWorkflowLog constructs the PostgreSQL workflow log.
func NewPGWorkflowLog(pool *pgxpool.Pool) *PGWorkflowLog {
	return &PGWorkflowLog{pool: pool}
}

// RecordApproved inserts the hand-off once per order.
func (l *PGWorkflowLog) RecordApproved(ctx context.Context, evt approvals.ApprovedEvent) (bool, error) {
	if l == nil || l.pool == nil {
		return false, errors.New("workflow log: pool not configured")
	}
	tag, err := l.pool.Exec(ctx, `INSERT INTO workflow_events (order_id, org_id, event, total_value, occurred_at)
VALUES ($1,$2,'po.approved',$3::numeric,$4)
ON CONFLICT (order_id, event) DO NOTHING`, evt.OrderID, evt.OrgID, evt.TotalValue.String(), evt.ApprovedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
