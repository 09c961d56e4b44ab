package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/retifica-erp/retifica/jobs"
)

// TaskEnqueuer submits prepared tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInspector reads queue state.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobDefaults carries the payload values used when a job is triggered by hand.
type JobDefaults struct {
	EscalationAfter time.Duration
	ReminderDays    int
	Retention       time.Duration
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    TaskEnqueuer
	inspector QueueInspector
	defaults  JobDefaults
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis instance.
func NewJobsCLI(redisOpts asynq.RedisClientOpt, defaults JobDefaults) (*JobsCLI, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)
	c := NewJobsCLIWith(client, inspector, defaults)
	c.closers = []io.Closer{inspector, client}
	return c, nil
}

// NewJobsCLIWith builds the helper over existing collaborators.
func NewJobsCLIWith(client TaskEnqueuer, inspector QueueInspector, defaults JobDefaults) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, defaults: defaults}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closer := range c.closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case "escalation", jobs.TaskEscalationScan:
		task, err = jobs.NewEscalationScanTask(c.defaults.EscalationAfter, 0)
	case "reminder", jobs.TaskExpiryReminder:
		task, err = jobs.NewExpiryReminderTask(c.defaults.ReminderDays)
	case "cleanup", jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(c.defaults.Retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports the metrics of every worker queue.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueNotifications, jobs.QueueDefault}
	stats := make([]QueueStats, 0, len(queues))
	for _, queue := range queues {
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", queue, err)
		}
		s := QueueStats{Queue: queue}
		if info != nil {
			s.Pending = info.Pending
			s.Active = info.Active
			s.Scheduled = info.Scheduled
			s.Retry = info.Retry
			s.Archived = info.Archived
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// JobsOptions defines the arguments of the jobs command.
type JobsOptions struct {
	Action string
	Name   string
	Stdout io.Writer
	Stderr io.Writer
}

// JobsCommand runs `jobs trigger <name>` or `jobs inspect` and returns an exit code.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	switch opts.Action {
	case "trigger":
		info, err := c.Trigger(ctx, opts.Name)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "inspect":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(opts.Stdout, "%-14s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	default:
		_, _ = fmt.Fprintln(opts.Stderr, "usage: retifica jobs trigger <escalation|reminder|cleanup> | retifica jobs inspect")
		return 2
	}
}
