package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/retifica-erp/retifica/internal/app"
	jobmetrics "github.com/retifica-erp/retifica/internal/jobs"
	"github.com/retifica-erp/retifica/internal/platform/cache"
	"github.com/retifica-erp/retifica/internal/platform/db"
	"github.com/retifica-erp/retifica/internal/procurement"
	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
	"github.com/retifica-erp/retifica/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := cfg.Redis().Queue()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = jobClient.Close() }()

	metrics := jobmetrics.NewMetrics(nil)
	rbacService := rbac.NewService(pool)
	module := procurement.NewModule(procurement.Deps{
		Pool:                pool,
		Redis:               redisClient,
		CacheTTL:            cfg.ThresholdCacheTTL,
		Logger:              logger,
		Identity:            rbacService,
		ApprovalNotifier:    jobClient,
		Workflow:            jobClient,
		ConditionalNotifier: jobClient,
	})
	idempotency := shared.NewIdempotencyStore(pool)

	notifyJob := jobs.NewNotificationJob(jobs.NewPGInbox(pool), idempotency, cfg.NotifyLocale, logger, metrics)
	workflowJob := jobs.NewWorkflowAdvanceJob(jobs.NewPGWorkflowLog(pool), logger, metrics)
	escalationJob := jobs.NewEscalationScanJob(module.Approvals, logger, metrics)
	reminderJob := jobs.NewExpiryReminderJob(module.Conditional, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotency, logger, metrics)

	escalationTask, err := jobs.NewEscalationScanTask(cfg.EscalationAfter, 0)
	if err != nil {
		logger.Error("build escalation task", slog.Any("error", err))
		os.Exit(1)
	}
	reminderTask, err := jobs.NewExpiryReminderTask(cfg.ConditionalReminderDays)
	if err != nil {
		logger.Error("build reminder task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyApproval, Handler: notifyJob.HandleApproval},
			{Type: jobs.TaskNotifyConditional, Handler: notifyJob.HandleConditional},
			{Type: jobs.TaskWorkflowAdvance, Handler: workflowJob.Handle},
			{Type: jobs.TaskEscalationScan, Handler: escalationJob.Handle},
			{Type: jobs.TaskExpiryReminder, Handler: reminderJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.EscalationScanCron, Task: escalationTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.ConditionalReminderCron, Task: reminderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
