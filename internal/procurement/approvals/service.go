package approvals

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	History(ctx context.Context, orderID int64) ([]HistoryEvent, error)
	ListIdlePending(ctx context.Context, idleSince time.Time, after IdleCursor, limit int) ([]IdleOrder, error)
}

// TxRepository exposes transactional operations. Writes are conditional so
// that the first committed decision wins.
type TxRepository interface {
	LockOrder(ctx context.Context, id int64) (Order, error)
	Votes(ctx context.Context, orderID int64) ([]Vote, error)
	Escalation(ctx context.Context, orderID int64) (*Escalation, error)
	InsertVote(ctx context.Context, v Vote) error
	InsertEscalation(ctx context.Context, e Escalation) error
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	AppendHistory(ctx context.Context, events []HistoryEvent) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PolicyResolver maps order values onto the current threshold configuration.
type PolicyResolver interface {
	Resolve(ctx context.Context, orgID int64, value decimal.Decimal) (thresholds.Resolution, error)
	NextTier(ctx context.Context, orgID int64, value decimal.Decimal) (*thresholds.Threshold, error)
}

// IdentityPort returns the authoritative role of a user.
type IdentityPort interface {
	RoleOf(ctx context.Context, userID int64) (string, error)
}

// IdleOrder is a pending order with the time of its last history event.
type IdleOrder struct {
	Order        Order
	LastActivity time.Time
}

// IdleCursor is the keyset position of ListIdlePending: results sort by
// last activity then order id and start strictly after the cursor.
type IdleCursor struct {
	LastActivity time.Time
	OrderID      int64
}

const defaultIdlePage = 100

// Service runs approval decisions against persisted orders.
type Service struct {
	repo     RepositoryPort
	resolver PolicyResolver
	identity IdentityPort
	notifier Notifier
	workflow WorkflowAdvancer
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the approval service. identity, notifier and workflow
// may be nil.
func NewService(repo RepositoryPort, resolver PolicyResolver, identity IdentityPort, notifier Notifier, workflow WorkflowAdvancer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		identity: identity,
		notifier: notifier,
		workflow: workflow,
		logger:   logger,
		now:      time.Now,
	}
}

// SetObserver attaches transition metrics.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Get returns an order of the actor's organization.
func (s *Service) Get(ctx context.Context, id int64, actor shared.Actor) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if order.OrgID != actor.OrgID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// History returns the approval trail of an order in insertion order.
func (s *Service) History(ctx context.Context, orderID int64, actor shared.Actor) ([]HistoryEvent, error) {
	if _, err := s.Get(ctx, orderID, actor); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, orderID)
}

// Submit sends a draft order for approval.
func (s *Service) Submit(ctx context.Context, orderID int64, actor shared.Actor) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, actor shared.Actor, now time.Time) (Transition, error) {
		return SendForApproval(snap.Order, snap.Policy, actor.ID, now)
	})
}

// Approve records actor's approval.
func (s *Service) Approve(ctx context.Context, orderID int64, actor shared.Actor) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, actor shared.Actor, now time.Time) (Transition, error) {
		return Approve(snap, actor, now)
	})
}

// Reject rejects a pending order with a mandatory reason.
func (s *Service) Reject(ctx context.Context, orderID int64, actor shared.Actor, reason string) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, actor shared.Actor, now time.Time) (Transition, error) {
		return Reject(snap, actor, reason, now)
	})
}

// Cancel cancels a pending, approved or sent order.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor shared.Actor) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, _ shared.Actor, _ time.Time) (Transition, error) {
		return Cancel(snap.Order)
	})
}

// MarkSent records that an approved order went to the supplier.
func (s *Service) MarkSent(ctx context.Context, orderID int64, actor shared.Actor) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, _ shared.Actor, _ time.Time) (Transition, error) {
		return Advance(snap.Order, StatusSent)
	})
}

// Confirm records supplier confirmation of a sent order.
func (s *Service) Confirm(ctx context.Context, orderID int64, actor shared.Actor) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, _ shared.Actor, _ time.Time) (Transition, error) {
		return Advance(snap.Order, StatusConfirmed)
	})
}

// Escalate hands a pending multi-approver order to the next tier's approvers.
func (s *Service) Escalate(ctx context.Context, orderID int64, actor shared.Actor, reason string) (Order, error) {
	return s.run(ctx, orderID, actor, func(snap Snapshot, actor shared.Actor, now time.Time) (Transition, error) {
		target, err := s.escalationTarget(ctx, snap.Order)
		if err != nil {
			return Transition{}, err
		}
		return Escalate(snap, target, actor.Ref(), reason, now)
	})
}

// EscalateIdle escalates pending orders whose last activity is older than
// after. The idle backlog is read in pages of limit orders until a short page,
// so orders whose policy cannot escalate never hide newer candidates.
// Failures on single orders are logged and skipped. It returns the number of
// orders escalated.
func (s *Service) EscalateIdle(ctx context.Context, after time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultIdlePage
	}
	now := s.now()
	escalated := 0
	var cursor IdleCursor
	for {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		page, err := s.repo.ListIdlePending(ctx, now.Add(-after), cursor, limit)
		if err != nil {
			return escalated, err
		}
		for _, item := range page {
			cursor = IdleCursor{LastActivity: item.LastActivity, OrderID: item.Order.ID}
			if s.escalateIdleOrder(ctx, item, now, after) {
				escalated++
			}
		}
		if len(page) < limit {
			return escalated, nil
		}
	}
}

func (s *Service) escalateIdleOrder(ctx context.Context, item IdleOrder, now time.Time, after time.Duration) bool {
	var (
		order Order
		tr    Transition
		snap  Snapshot
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, item.Order.ID)
		if err != nil {
			return err
		}
		snap, err = s.snapshot(ctx, tx, order)
		if err != nil {
			return err
		}
		if !EscalationDue(snap, item.LastActivity, now, after) {
			return nil
		}
		target, err := s.escalationTarget(ctx, order)
		if err != nil {
			return err
		}
		tr, err = Escalate(snap, target, shared.SystemActor, "approval timeout", now)
		if err != nil {
			return err
		}
		return s.apply(ctx, tx, order, tr, shared.Actor{OrgID: order.OrgID})
	})
	if err != nil {
		s.logger.Warn("escalate idle order", slog.Int64("order_id", item.Order.ID), slog.Any("error", err))
		return false
	}
	if tr.Escalation == nil {
		return false
	}
	s.afterCommit(ctx, order, snap, tr)
	return true
}

type decision func(snap Snapshot, actor shared.Actor, now time.Time) (Transition, error)

func (s *Service) run(ctx context.Context, orderID int64, actor shared.Actor, decide decision) (Order, error) {
	actor, err := s.authoritative(ctx, actor)
	if err != nil {
		return Order{}, err
	}
	var (
		order Order
		snap  Snapshot
		tr    Transition
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.OrgID != actor.OrgID {
			return ErrOrderNotFound
		}
		snap, err = s.snapshot(ctx, tx, order)
		if err != nil {
			return err
		}
		tr, err = decide(snap, actor, now)
		if err != nil {
			return err
		}
		return s.apply(ctx, tx, order, tr, actor)
	})
	if err != nil {
		return Order{}, err
	}
	s.afterCommit(ctx, order, snap, tr)
	order.Status = tr.To
	return order, nil
}

// snapshot re-resolves the policy from the stored total so that decisions
// follow the configuration in force at decision time.
func (s *Service) snapshot(ctx context.Context, tx TxRepository, order Order) (Snapshot, error) {
	res, err := s.resolver.Resolve(ctx, order.OrgID, order.TotalValue)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Order: order, Policy: PolicyFor(res)}
	if order.Status != StatusPendingApproval {
		return snap, nil
	}
	if snap.Votes, err = tx.Votes(ctx, order.ID); err != nil {
		return Snapshot{}, err
	}
	if snap.Escalation, err = tx.Escalation(ctx, order.ID); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *Service) apply(ctx context.Context, tx TxRepository, order Order, tr Transition, actor shared.Actor) error {
	if tr.Vote != nil {
		if err := tx.InsertVote(ctx, *tr.Vote); err != nil {
			return err
		}
	}
	if tr.Escalation != nil {
		if err := tx.InsertEscalation(ctx, *tr.Escalation); err != nil {
			return err
		}
	}
	if tr.Changed() {
		if err := tx.UpdateStatus(ctx, order.ID, tr.From, tr.To); err != nil {
			return err
		}
	}
	if len(tr.Events) > 0 {
		if err := tx.AppendHistory(ctx, tr.Events); err != nil {
			return err
		}
	}
	if tr.Changed() && len(tr.Events) == 0 {
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			OrgID:    order.OrgID,
			Action:   "PO_" + string(tr.To),
			Entity:   "purchase_order",
			EntityID: strconv.FormatInt(order.ID, 10),
			Meta:     map[string]any{"from": string(tr.From), "to": string(tr.To)},
		})
	}
	return nil
}

// afterCommit runs best-effort side effects. Failures never undo the decision.
func (s *Service) afterCommit(ctx context.Context, order Order, snap Snapshot, tr Transition) {
	if tr.Changed() && s.observer != nil {
		s.observer.ApprovalTransition(string(tr.From), string(tr.To))
	}
	if notice, ok := noticeFor(order, snap, tr); ok && s.notifier != nil {
		if err := s.notifier.NotifyApproval(ctx, notice); err != nil {
			s.logger.Warn("approval notification", slog.Int64("order_id", order.ID), slog.String("action", string(notice.Action)), slog.Any("error", err))
		}
	}
	if tr.Changed() && tr.To == StatusApproved && s.workflow != nil {
		evt := ApprovedEvent{OrderID: order.ID, OrgID: order.OrgID, Number: order.Number, TotalValue: order.TotalValue, ApprovedAt: s.now()}
		if err := s.workflow.AdvanceApproved(ctx, evt); err != nil {
			s.logger.Warn("workflow advancement", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
}

func noticeFor(order Order, snap Snapshot, tr Transition) (Notice, bool) {
	if len(tr.Events) == 0 {
		return Notice{}, false
	}
	event := tr.Events[len(tr.Events)-1]
	if event.Action == ActionApproved && !tr.Changed() {
		return Notice{}, false
	}
	notice := Notice{
		OrderID:     order.ID,
		OrgID:       order.OrgID,
		Number:      order.Number,
		TotalValue:  order.TotalValue,
		Action:      event.Action,
		Status:      tr.To,
		PerformedBy: event.PerformedBy,
		At:          event.PerformedAt,
	}
	if event.RejectionReason != nil {
		notice.Reason = *event.RejectionReason
	}
	switch event.Action {
	case ActionSent:
		notice.Recipients = ApproversOf(snap.Policy)
		if len(notice.Recipients) == 0 {
			notice.Recipients = []string{string(LevelOf(snap.Policy))}
		}
	case ActionEscalated:
		notice.Recipients = tr.Escalation.Approvers
		notice.Reason = tr.Escalation.Reason
	default:
		notice.Recipients = []string{strconv.FormatInt(order.CreatedBy, 10)}
	}
	return notice, true
}

// escalationTarget is the approver set of the tier above the order's tier.
func (s *Service) escalationTarget(ctx context.Context, order Order) ([]string, error) {
	next, err := s.resolver.NextTier(ctx, order.OrgID, order.TotalValue)
	if err != nil {
		return nil, err
	}
	if next == nil || len(next.Approvers) == 0 {
		return []string{shared.RoleAdmin}, nil
	}
	return next.Approvers, nil
}

func (s *Service) authoritative(ctx context.Context, actor shared.Actor) (shared.Actor, error) {
	if s.identity == nil {
		return actor, nil
	}
	role, err := s.identity.RoleOf(ctx, actor.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return actor, nil
	}
	if err != nil {
		return shared.Actor{}, err
	}
	actor.Role = role
	return actor, nil
}
