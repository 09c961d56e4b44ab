package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	jobmetrics "github.com/retifica-erp/retifica/internal/jobs"
	"github.com/retifica-erp/retifica/internal/procurement/approvals"
	"github.com/retifica-erp/retifica/internal/procurement/conditional"
	"github.com/retifica-erp/retifica/internal/shared"
)

const idempotencyModule = "notifications"

// Notification is one inbox row addressed to a user id or a role.
type Notification struct {
	OrgID     int64
	Recipient string
	Kind      string
	OrderID   int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// Inbox persists notifications.
type Inbox interface {
	Deliver(ctx context.Context, items []Notification) error
}

// Deduper guards against delivering the same notice twice on task retry.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// NotificationJob turns procurement notices into inbox rows.
type NotificationJob struct {
	Inbox   Inbox
	Dedup   Deduper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	printer *message.Printer
	unit    currency.Unit
	point   string
	clock   func() time.Time
}

// NewNotificationJob wires the notification handler. locale is a BCP 47 tag
// used for dates and amounts; invalid tags fall back to pt-BR.
func NewNotificationJob(inbox Inbox, dedup Deduper, locale string, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationJob {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.BrazilianPortuguese
	}
	unit, conf := currency.FromTag(tag)
	if conf == language.No {
		unit = currency.BRL
	}
	printer := message.NewPrinter(tag)
	return &NotificationJob{
		Inbox:   inbox,
		Dedup:   dedup,
		Logger:  logger,
		Metrics: metrics,
		printer: printer,
		unit:    unit,
		point:   strings.Trim(printer.Sprint(number.Decimal(1.5, number.Scale(1))), "0123456789"),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleApproval delivers an approval transition notice.
func (j *NotificationJob) HandleApproval(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inbox == nil {
		return errors.New("notify approval: handler not configured")
	}
	var notice approvals.Notice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return asynq.SkipRetry
	}
	key := fmt.Sprintf("approval:%d:%s:%s:%d", notice.OrderID, notice.Action, notice.Status, notice.At.UnixNano())
	title, body := j.approvalText(notice)
	return j.deliver(ctx, TaskNotifyApproval, key, notice.OrgID, notice.OrderID, "approval."+string(notice.Status), notice.Recipients, title, body)
}

// HandleConditional delivers a conditional order notice.
func (j *NotificationJob) HandleConditional(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inbox == nil {
		return errors.New("notify conditional: handler not configured")
	}
	var notice conditional.Notice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return asynq.SkipRetry
	}
	key := fmt.Sprintf("conditional:%d:%s:%s", notice.OrderID, notice.Kind, notice.ExpiryDate.Format(time.DateOnly))
	title, body := j.conditionalText(notice)
	return j.deliver(ctx, TaskNotifyConditional, key, notice.OrgID, notice.OrderID, "conditional."+string(notice.Kind), notice.Recipients, title, body)
}

func (j *NotificationJob) deliver(ctx context.Context, job, key string, orgID, orderID int64, kind string, recipients []string, title, body string) error {
	tracker := j.metrics().Track(job)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log(job).With(slog.Int64("order_id", orderID), slog.String("kind", kind))
	if len(recipients) == 0 {
		logger.Info("notice without recipients skipped")
		return nil
	}
	if j.Dedup != nil {
		if err := j.Dedup.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				logger.Info("notice already delivered", slog.String("key", key))
				return nil
			}
			resultErr = err
			return resultErr
		}
	}

	now := j.now()
	items := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		items = append(items, Notification{
			OrgID:     orgID,
			Recipient: r,
			Kind:      kind,
			OrderID:   orderID,
			Title:     title,
			Body:      body,
			CreatedAt: now,
		})
	}
	if err := j.Inbox.Deliver(ctx, items); err != nil {
		if j.Dedup != nil {
			if derr := j.Dedup.Delete(ctx, key); derr != nil {
				logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		resultErr = err
		logger.Error("deliver notice", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(job, "delivered", len(items))
	logger.Info("notice delivered", slog.Int("recipients", len(items)))
	return resultErr
}

func (j *NotificationJob) approvalText(n approvals.Notice) (string, string) {
	amount := j.money(n.TotalValue)
	switch {
	case n.Action == approvals.ActionEscalated:
		return j.printer.Sprintf("Pedido %s escalado", n.Number),
			j.printer.Sprintf("O pedido %s (%s) foi escalado por %s: %s", n.Number, amount, n.PerformedBy, n.Reason)
	case n.Status == approvals.StatusPendingApproval && n.Action == approvals.ActionSent:
		return j.printer.Sprintf("Pedido %s aguardando aprovação", n.Number),
			j.printer.Sprintf("O pedido %s no valor de %s aguarda sua aprovação.", n.Number, amount)
	case n.Status == approvals.StatusApproved:
		return j.printer.Sprintf("Pedido %s aprovado", n.Number),
			j.printer.Sprintf("O pedido %s no valor de %s foi aprovado por %s.", n.Number, amount, n.PerformedBy)
	case n.Status == approvals.StatusRejected:
		return j.printer.Sprintf("Pedido %s rejeitado", n.Number),
			j.printer.Sprintf("O pedido %s no valor de %s foi rejeitado por %s: %s", n.Number, amount, n.PerformedBy, n.Reason)
	default:
		return j.printer.Sprintf("Pedido %s atualizado", n.Number),
			j.printer.Sprintf("O pedido %s (%s) está em %s.", n.Number, amount, string(n.Status))
	}
}

func (j *NotificationJob) conditionalText(n conditional.Notice) (string, string) {
	expiry := n.ExpiryDate.Format("02/01/2006")
	if n.Kind == conditional.NoticeExtended {
		return j.printer.Sprintf("Prazo do pedido %s prorrogado", n.Number),
			j.printer.Sprintf("O prazo do pedido condicional %s foi prorrogado em %d dias, até %s.", n.Number, n.DaysAdded, expiry)
	}
	return j.printer.Sprintf("Pedido %s vence em breve", n.Number),
		j.printer.Sprintf("O pedido condicional %s vence em %s.", n.Number, expiry)
}

// money renders v with the locale's grouping from its exact digits. Totals are
// NUMERIC(18,2) so the whole part always fits an int64.
func (j *NotificationJob) money(v decimal.Decimal) string {
	v = v.Round(2)
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Abs()
	}
	whole := v.Truncate(0)
	cents := v.Sub(whole).Shift(2).IntPart()
	point := j.point
	if point == "" {
		point = "."
	}
	return fmt.Sprintf("%s %s%s%s%02d",
		j.printer.Sprint(currency.Symbol(j.unit)), sign,
		j.printer.Sprint(number.Decimal(whole.IntPart())), point, cents)
}

func (j *NotificationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *NotificationJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *NotificationJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *NotificationJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// PGInbox writes notifications into the notifications table.
type PGInbox struct {
	pool *pgxpool.Pool
}

// NewPGInbox constructs the PostgreSQL inbox.
func NewPGInbox(pool *pgxpool.Pool) *PGInbox {
	return &PGInbox{pool: pool}
}

// Deliver inserts all rows in one transaction.
func (i *PGInbox) Deliver(ctx context.Context, items []Notification) error {
	if i == nil || i.pool == nil {
		return errors.New("inbox: pool not configured")
	}
	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, n := range items {
		if _, err := tx.Exec(ctx, `INSERT INTO notifications (org_id, recipient, kind, order_id, title, body, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, n.OrgID, n.Recipient, n.Kind, n.OrderID, n.Title, n.Body, n.CreatedAt); err != nil {
			return fmt.Errorf("insert notification for %s: %w", strconv.Quote(n.Recipient), err)
		}
	}
	return tx.Commit(ctx)
}
