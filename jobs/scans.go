package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/retifica-erp/retifica/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	defaultEscalationAfter = 48 * time.Hour
	defaultEscalationLimit = 200
	defaultReminderDays    = 2
	defaultRetention       = 7 * 24 * time.Hour
)

// IdleEscalator escalates pending orders idle longer than after.
type IdleEscalator interface {
	EscalateIdle(ctx context.Context, after time.Duration, limit int) (int, error)
}

// ExpiryReminder notifies owners of conditional orders expiring within days.
type ExpiryReminder interface {
	RemindExpiring(ctx context.Context, days int) (int, error)
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// EscalationScanJob runs the periodic escalation of idle approvals.
type EscalationScanJob struct {
	Approvals IdleEscalator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewEscalationScanJob constructs the scan handler.
func NewEscalationScanJob(approvals IdleEscalator, logger *slog.Logger, metrics *jobmetrics.Metrics) *EscalationScanJob {
	return &EscalationScanJob{Approvals: approvals, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *EscalationScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Approvals == nil {
		return errors.New("escalation scan: dependencies not configured")
	}
	var payload EscalationScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.After <= 0 {
		payload.After = defaultEscalationAfter
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultEscalationLimit
	}

	tracker := j.metrics().Track(TaskEscalationScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := jobLogger(j.Logger, TaskEscalationScan).With(slog.Duration("after", payload.After))
	escalated, err := j.Approvals.EscalateIdle(ctx, payload.After, payload.Limit)
	j.metrics().AddItems(TaskEscalationScan, "escalated", escalated)
	if err != nil {
		resultErr = err
		logger.Error("escalation scan failed", slog.Int("escalated", escalated), slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed escalation scan", slog.Int("escalated", escalated), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *EscalationScanJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// ExpiryReminderJob reminds about conditional orders close to their deadline.
type ExpiryReminderJob struct {
	Conditional ExpiryReminder
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewExpiryReminderJob constructs the reminder handler.
func NewExpiryReminderJob(conditional ExpiryReminder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryReminderJob {
	return &ExpiryReminderJob{Conditional: conditional, Logger: logger, Metrics: metrics}
}

// Handle executes one reminder run.
func (j *ExpiryReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Conditional == nil {
		return errors.New("expiry reminder: dependencies not configured")
	}
	var payload ExpiryReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Days <= 0 {
		payload.Days = defaultReminderDays
	}

	tracker := j.metrics().Track(TaskExpiryReminder)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskExpiryReminder).With(slog.Int("days", payload.Days))
	reminded, err := j.Conditional.RemindExpiring(ctx, payload.Days)
	j.metrics().AddItems(TaskExpiryReminder, "reminded", reminded)
	if err != nil {
		resultErr = err
		logger.Error("expiry reminder failed", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed expiry reminder", slog.Int("reminded", reminded))
	return resultErr
}

func (j *ExpiryReminderJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the cleanup handler.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes one cleanup run.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: dependencies not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = defaultRetention
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, payload.Retention)
	if err != nil {
		jobLogger(j.Logger, TaskIdempotencyCleanup).Error("cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.AddItems(TaskIdempotencyCleanup, "removed", int(removed))
	jobLogger(j.Logger, TaskIdempotencyCleanup).Info("pruned idempotency keys", slog.Int64("removed", removed))
	return tracker.End(nil)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
