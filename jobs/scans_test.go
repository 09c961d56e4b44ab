package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/retifica-erp/retifica/internal/jobs"
	"github.com/retifica-erp/retifica/internal/procurement/approvals"
)

type stubEscalator struct {
	after time.Duration
	limit int
	count int
	err   error
}

func (s *stubEscalator) EscalateIdle(_ context.Context, after time.Duration, limit int) (int, error) {
	s.after, s.limit = after, limit
	return s.count, s.err
}

type stubReminder struct {
	days  int
	count int
}

func (s *stubReminder) RemindExpiring(_ context.Context, days int) (int, error) {
	s.days = days
	return s.count, nil
}

type stubCleaner struct {
	retention time.Duration
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 4, nil
}

type memoryWorkflowLog struct {
	seen map[int64]bool
}

func (m *memoryWorkflowLog) RecordApproved(_ context.Context, evt approvals.ApprovedEvent) (bool, error) {
	if m.seen[evt.OrderID] {
		return false, nil
	}
	m.seen[evt.OrderID] = true
	return true, nil
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestEscalationScanUsesPayload(t *testing.T) {
	stub := &stubEscalator{count: 3}
	job := NewEscalationScanJob(stub, nil, testMetrics())
	task, err := NewEscalationScanTask(24*time.Hour, 50)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, stub.after)
	require.Equal(t, 50, stub.limit)
}

func TestEscalationScanDefaultsAndErrors(t *testing.T) {
	stub := &stubEscalator{err: errors.New("lock timeout")}
	job := NewEscalationScanJob(stub, nil, testMetrics())
	task, err := NewEscalationScanTask(0, 0)
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultEscalationAfter, stub.after)
	require.Equal(t, defaultEscalationLimit, stub.limit)

	var unconfigured *EscalationScanJob
	require.Error(t, unconfigured.Handle(context.Background(), task))
}

func TestExpiryReminderDefaultsDays(t *testing.T) {
	stub := &stubReminder{count: 2}
	job := NewExpiryReminderJob(stub, nil, testMetrics())
	task, err := NewExpiryReminderTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultReminderDays, stub.days)

	err = job.Handle(context.Background(), asynq.NewTask(TaskExpiryReminder, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	stub := &stubCleaner{}
	job := NewIdempotencyCleanupJob(stub, nil, testMetrics())
	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, stub.retention)
}

func TestWorkflowAdvanceIsIdempotent(t *testing.T) {
	log := &memoryWorkflowLog{seen: map[int64]bool{}}
	job := NewWorkflowAdvanceJob(log, nil, testMetrics())
	task, err := NewWorkflowAdvanceTask(approvals.ApprovedEvent{
		OrderID:    41,
		OrgID:      1,
		Number:     "PO-0041",
		TotalValue: decimal.RequireFromString("500"),
		ApprovedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, log.seen, 1)

	bad, err := NewWorkflowAdvanceTask(approvals.ApprovedEvent{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}
