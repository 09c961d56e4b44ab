package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/retifica-erp/retifica/internal/procurement/approvals"
	"github.com/retifica-erp/retifica/internal/procurement/conditional"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries user-facing notices.
	QueueNotifications = "notifications"

	// TaskNotifyApproval delivers an approval transition notice.
	TaskNotifyApproval = "notify:approval"
	// TaskNotifyConditional delivers a conditional order deadline notice.
	TaskNotifyConditional = "notify:conditional"
	// TaskWorkflowAdvance hands an approved order to fulfilment.
	TaskWorkflowAdvance = "workflow:advance"
	// TaskEscalationScan escalates idle pending orders.
	TaskEscalationScan = "approvals:escalation_scan"
	// TaskExpiryReminder reminds owners of conditional orders about to expire.
	TaskExpiryReminder = "conditional:expiry_reminder"
	// TaskIdempotencyCleanup prunes processed job keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// EscalationScanPayload configures an escalation scan run.
type EscalationScanPayload struct {
	After time.Duration `json:"after"`
	Limit int           `json:"limit"`
}

// ExpiryReminderPayload configures an expiry reminder run.
type ExpiryReminderPayload struct {
	Days int `json:"days"`
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewNotifyApprovalTask builds a notification task for an approval notice.
func NewNotifyApprovalTask(notice approvals.Notice) (*asynq.Task, error) {
	body, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyApproval, body, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// NewNotifyConditionalTask builds a notification task for a conditional order notice.
func NewNotifyConditionalTask(notice conditional.Notice) (*asynq.Task, error) {
	body, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyConditional, body, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// NewWorkflowAdvanceTask builds a workflow hand-off task for an approved order.
func NewWorkflowAdvanceTask(evt approvals.ApprovedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowAdvance, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// NewEscalationScanTask builds the periodic escalation scan task.
func NewEscalationScanTask(after time.Duration, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(EscalationScanPayload{After: after, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationScan, body, asynq.Queue(QueueDefault)), nil
}

// NewExpiryReminderTask builds the periodic conditional expiry reminder task.
func NewExpiryReminderTask(days int) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryReminderPayload{Days: days})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryReminder, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds the key pruning task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
