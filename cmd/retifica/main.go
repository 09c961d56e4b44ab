package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/retifica-erp/retifica/cmd/retifica/cli"
	"github.com/retifica-erp/retifica/internal/app"
	"github.com/retifica-erp/retifica/internal/observability"
	"github.com/retifica-erp/retifica/internal/platform/cache"
	"github.com/retifica-erp/retifica/internal/platform/db"
	"github.com/retifica-erp/retifica/internal/procurement"
	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/jobs"
	"github.com/retifica-erp/retifica/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	if len(args) > 0 {
		switch args[0] {
		case "jobs":
			return runJobs(ctx, cfg, args[1:])
		case "thresholds":
			return runThresholds(ctx, cfg, logger, args[1:])
		case "migrate":
			return runMigrate(ctx, cfg, logger)
		case "serve":
		default:
			_, _ = fmt.Fprintf(os.Stderr, "unknown command %q (serve | migrate | jobs | thresholds)\n", args[0])
			return 2
		}
	}
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, threshold cache disabled", slog.Any("error", err))
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
		return 1
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	rbacService := rbac.NewService(pool)
	if err := rbacService.EnsureProcurementPermissions(ctx); err != nil {
		logger.Warn("seed procurement permissions", slog.Any("error", err))
	}
	rbacMiddleware := rbac.Middleware{Source: rbacService, Logger: logger}
	metrics := observability.NewMetrics()

	deps := procurement.Deps{
		Pool:                pool,
		Redis:               redisClient,
		CacheTTL:            cfg.ThresholdCacheTTL,
		Logger:              logger,
		RBAC:                rbacMiddleware,
		Identity:            rbacService,
		ApprovalNotifier:    jobClient,
		Workflow:            jobClient,
		ConditionalNotifier: jobClient,
		Observer:            metrics,
	}
	module := procurement.NewModule(deps)

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		JWT: app.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			ExpiresIn:  cfg.JWTTTL,
		},
		Procurement:        module,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		return 1
	}
	return 0
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	opts := cli.JobsOptions{}
	if len(args) > 0 {
		opts.Action = args[0]
	}
	if len(args) > 1 {
		opts.Name = args[1]
	}
	c, err := cli.NewJobsCLI(cfg.Redis().Queue(), cli.JobDefaults{
		EscalationAfter: cfg.EscalationAfter,
		ReminderDays:    cfg.ConditionalReminderDays,
		Retention:       cfg.IdempotencyRetention,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()
	return c.JobsCommand(ctx, opts)
}

func runThresholds(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "audit" {
		_, _ = fmt.Fprintln(os.Stderr, "usage: retifica thresholds audit [--org N] [--json]")
		return 2
	}
	fs := flag.NewFlagSet("thresholds audit", flag.ContinueOnError)
	orgID := fs.Int64("org", 0, "organization id, all organizations when omitted")
	asJSON := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "thresholds audit: %v\n", err)
		return 1
	}
	defer pool.Close()

	repo := thresholds.NewRepository(pool)
	svc := thresholds.NewService(repo, nil, logger)
	return cli.NewThresholdsCLI(svc, repo).AuditCommand(ctx, cli.AuditOptions{OrgID: *orgID, JSONOutput: *asJSON})
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		return 1
	}
	logger.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("names", applied))
	return 0
}
