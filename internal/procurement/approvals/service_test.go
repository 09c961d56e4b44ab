package approvals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	pages       int
	orders      map[int64]Order
	votes       map[int64][]Vote
	escalations map[int64]Escalation
	history     []HistoryEvent
	audits      []shared.AuditLog
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(orders ...Order) *memoryRepo {
	r := &memoryRepo{
		orders:      make(map[int64]Order),
		votes:       make(map[int64][]Vote),
		escalations: make(map[int64]Escalation),
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := make(map[int64]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = v
	}
	votes := make(map[int64][]Vote, len(r.votes))
	for k, v := range r.votes {
		votes[k] = append([]Vote(nil), v...)
	}
	escalations := make(map[int64]Escalation, len(r.escalations))
	for k, v := range r.escalations {
		escalations[k] = v
	}
	history, audits := len(r.history), len(r.audits)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.orders, r.votes, r.escalations = orders, votes, escalations
		r.history, r.audits = r.history[:history], r.audits[:audits]
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *memoryRepo) History(ctx context.Context, orderID int64) ([]HistoryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryEvent
	for _, e := range r.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListIdlePending(ctx context.Context, idleSince time.Time, after IdleCursor, limit int) ([]IdleOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []IdleOrder
	for _, o := range r.orders {
		if o.Status != StatusPendingApproval {
			continue
		}
		if _, ok := r.escalations[o.ID]; ok {
			continue
		}
		var last time.Time
		for _, e := range r.history {
			if e.OrderID == o.ID && e.PerformedAt.After(last) {
				last = e.PerformedAt
			}
		}
		if last.IsZero() {
			last = o.UpdatedAt
		}
		if last.After(idleSince) {
			continue
		}
		if last.Before(after.LastActivity) || (last.Equal(after.LastActivity) && o.ID <= after.OrderID) {
			continue
		}
		out = append(out, IdleOrder{Order: o, LastActivity: last})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.Before(out[j].LastActivity)
		}
		return out[i].Order.ID < out[j].Order.ID
	})
	r.pages++
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := tx.repo.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (tx *memoryTx) Votes(ctx context.Context, orderID int64) ([]Vote, error) {
	return append([]Vote(nil), tx.repo.votes[orderID]...), nil
}

func (tx *memoryTx) Escalation(ctx context.Context, orderID int64) (*Escalation, error) {
	e, ok := tx.repo.escalations[orderID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (tx *memoryTx) InsertVote(ctx context.Context, v Vote) error {
	for _, existing := range tx.repo.votes[v.OrderID] {
		if existing.ActorID == v.ActorID || existing.Position == v.Position {
			return &shared.PreconditionError{Entity: "purchase_order", ID: v.OrderID, State: string(StatusPendingApproval), Reason: "vote already recorded"}
		}
	}
	tx.repo.votes[v.OrderID] = append(tx.repo.votes[v.OrderID], v)
	return nil
}

func (tx *memoryTx) InsertEscalation(ctx context.Context, e Escalation) error {
	tx.repo.escalations[e.OrderID] = e
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	o := tx.repo.orders[id]
	if o.Status != from {
		return &shared.PreconditionError{Entity: "purchase_order", ID: id, State: string(o.Status)}
	}
	o.Status = to
	tx.repo.orders[id] = o
	return nil
}

func (tx *memoryTx) AppendHistory(ctx context.Context, events []HistoryEvent) error {
	tx.repo.history = append(tx.repo.history, events...)
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	tx.repo.audits = append(tx.repo.audits, log)
	return nil
}

type tierSource struct {
	mu    sync.Mutex
	tiers []thresholds.Threshold
}

func (s *tierSource) ListActive(ctx context.Context, orgID int64) ([]thresholds.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thresholds.Threshold(nil), s.tiers...), nil
}

func (s *tierSource) set(tiers ...thresholds.Threshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = tiers
}

func tier(id int64, min string, max string, typ thresholds.ApprovalType, approvers ...string) thresholds.Threshold {
	r := thresholds.Range{Min: decimal.RequireFromString(min)}
	if max != "" {
		r.Max = decimal.NewNullDecimal(decimal.RequireFromString(max))
	}
	return thresholds.Threshold{ID: id, OrgID: 1, Range: r, Type: typ, Approvers: approvers, IsActive: true}
}

func standardTiers() []thresholds.Threshold {
	return []thresholds.Threshold{
		tier(1, "0", "1000", thresholds.TypeAuto),
		tier(2, "1000", "5000", thresholds.TypeMultiple, "7", "8"),
		tier(3, "5000", "", thresholds.TypeChain, "gerente", "admin"),
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (n *recordingNotifier) NotifyApproval(ctx context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

type recordingWorkflow struct {
	mu     sync.Mutex
	events []ApprovedEvent
}

func (w *recordingWorkflow) AdvanceApproved(ctx context.Context, evt ApprovedEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, evt)
	return nil
}

type fixture struct {
	repo     *memoryRepo
	source   *tierSource
	notifier *recordingNotifier
	workflow *recordingWorkflow
	svc      *Service
}

func newFixture(orders ...Order) *fixture {
	f := &fixture{
		repo:     newMemoryRepo(orders...),
		source:   &tierSource{tiers: standardTiers()},
		notifier: &recordingNotifier{},
		workflow: &recordingWorkflow{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, thresholds.NewResolver(f.source, nil), nil, f.notifier, f.workflow, logger)
	f.svc.now = func() time.Time { return now }
	return f
}

func draft(id int64, total string) Order {
	return Order{ID: id, OrgID: 1, Number: "PO-" + total, TotalValue: decimal.RequireFromString(total), Status: StatusDraft, CreatedBy: buyer.ID, UpdatedAt: now.Add(-time.Hour)}
}

func TestServiceAutoApproval(t *testing.T) {
	f := newFixture(draft(1, "500"))
	order, err := f.svc.Submit(context.Background(), 1, buyer)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)

	history, err := f.svc.History(context.Background(), 1, buyer)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, ActionApproved, history[0].Action)
	require.Equal(t, LevelAuto, history[0].RequiredLevel)
	require.Equal(t, shared.SystemActor, history[0].PerformedBy)

	require.Len(t, f.workflow.events, 1)
	require.Equal(t, int64(1), f.workflow.events[0].OrderID)
	require.Len(t, f.notifier.notices, 1)
	require.Equal(t, []string{"3"}, f.notifier.notices[0].Recipients)
}

func TestServiceMultipleFlow(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()

	order, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, order.Status)
	require.Equal(t, []string{"7", "8"}, f.notifier.notices[0].Recipients)

	order, err = f.svc.Approve(ctx, 1, gerente)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, order.Status)
	require.Empty(t, f.workflow.events)

	_, err = f.svc.Approve(ctx, 1, gerente)
	require.ErrorIs(t, err, shared.ErrPrecondition)

	order, err = f.svc.Approve(ctx, 1, otherMgr)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)
	require.Len(t, f.workflow.events, 1)

	history, err := f.svc.History(ctx, 1, buyer)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, []Action{ActionSent, ActionApproved, ActionApproved}, []Action{history[0].Action, history[1].Action, history[2].Action})

	_, err = f.svc.Reject(ctx, 1, otherMgr, "too late")
	require.ErrorIs(t, err, shared.ErrPrecondition)
}

func TestServiceChainOutOfOrderLeavesOrderPending(t *testing.T) {
	f := newFixture(draft(1, "8000"))
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, 1, admin)
	require.ErrorIs(t, err, shared.ErrSequence)
	stored, err := f.svc.Get(ctx, 1, buyer)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, stored.Status)
	require.Empty(t, f.repo.votes[1], "failed attempt leaves no vote")
}

func TestServiceReResolvesPolicyAtDecisionTime(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	f.source.set(tier(4, "1000", "5000", thresholds.TypeSingle, "gerente"))

	order, err := f.svc.Approve(ctx, 1, gerente)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status, "single policy now in force")
}

func TestServiceNotificationFailureKeepsDecision(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	f.notifier.err = errors.New("queue unavailable")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)
	order, err := f.svc.Reject(ctx, 1, gerente, "duplicate request")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, order.Status)

	stored, err := f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, stored.Status)
	last := f.notifier.notices[len(f.notifier.notices)-1]
	require.Equal(t, ActionRejected, last.Action)
	require.Equal(t, "duplicate request", last.Reason)
}

func TestServiceConcurrentApprovalsCountOnce(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, 1, gerente)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrPrecondition)
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, f.repo.votes[1], 1)
	stored, err := f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, stored.Status)
}

func TestServiceRacingDecisionsFirstWins(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()
	f.source.set(tier(4, "1000", "5000", thresholds.TypeSingle, "gerente"))
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = f.svc.Approve(ctx, 1, gerente)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = f.svc.Reject(ctx, 1, otherMgr, "over budget")
	}()
	wg.Wait()

	require.True(t, (approveErr == nil) != (rejectErr == nil), "exactly one decision commits")
	stored, err := f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Contains(t, []Status{StatusApproved, StatusRejected}, stored.Status)
}

func TestServiceEscalate(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	order, err := f.svc.Escalate(ctx, 1, admin, "approver on vacation")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, order.Status)
	esc := f.repo.escalations[1]
	require.Equal(t, []string{"gerente", "admin"}, esc.Approvers, "next tier approvers")

	last := f.notifier.notices[len(f.notifier.notices)-1]
	require.Equal(t, ActionEscalated, last.Action)
	require.Equal(t, []string{"gerente", "admin"}, last.Recipients)

	order, err = f.svc.Approve(ctx, 1, otherMgr)
	require.NoError(t, err, "gerente role is in the escalated set")
	require.Equal(t, StatusApproved, order.Status)
}

func TestServiceEscalateIdle(t *testing.T) {
	f := newFixture(draft(1, "8000"), draft(2, "2000"), draft(3, "2000"))
	ctx := context.Background()
	f.svc.now = func() time.Time { return now.Add(-72 * time.Hour) }
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 2, buyer)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return now }
	_, err = f.svc.Submit(ctx, 3, buyer)
	require.NoError(t, err)

	count, err := f.svc.EscalateIdle(ctx, 48*time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, []string{shared.RoleAdmin}, f.repo.escalations[1].Approvers, "no tier above the top tier")
	require.Equal(t, shared.SystemActor, f.repo.escalations[2].EscalatedBy)
	_, escalated := f.repo.escalations[3]
	require.False(t, escalated)

	count, err = f.svc.EscalateIdle(ctx, 48*time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestServiceEscalateIdlePagesPastOrdersThatCannotEscalate(t *testing.T) {
	orders := []Order{draft(1, "8000")}
	for id := int64(2); id <= 6; id++ {
		orders = append(orders, draft(id, "2000"))
	}
	f := newFixture(orders...)
	f.source.set(
		tier(1, "0", "1000", thresholds.TypeAuto),
		tier(2, "1000", "5000", thresholds.TypeSingle, "gerente"),
		tier(3, "5000", "", thresholds.TypeChain, "gerente", "admin"),
	)
	ctx := context.Background()
	// The single orders go idle first so they fill the oldest pages.
	f.svc.now = func() time.Time { return now.Add(-96 * time.Hour) }
	for id := int64(2); id <= 6; id++ {
		_, err := f.svc.Submit(ctx, id, buyer)
		require.NoError(t, err)
	}
	f.svc.now = func() time.Time { return now.Add(-72 * time.Hour) }
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return now }

	count, err := f.svc.EscalateIdle(ctx, 48*time.Hour, 2)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Contains(t, f.repo.escalations, int64(1))
	require.Len(t, f.repo.escalations, 1)
	require.Equal(t, 4, f.repo.pages, "three full pages and a short one")
}

func TestServiceEscalateIdleStopsOnCancelledContext(t *testing.T) {
	f := newFixture(draft(1, "8000"))
	f.svc.now = func() time.Time { return now.Add(-72 * time.Hour) }
	_, err := f.svc.Submit(context.Background(), 1, buyer)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	count, err := f.svc.EscalateIdle(ctx, 48*time.Hour, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, count)
	require.Empty(t, f.repo.escalations)
}

func TestServiceOtherOrganizationIsHidden(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	outsider := shared.Actor{ID: 50, OrgID: 2, Role: shared.RoleAdmin}
	_, err := f.svc.Submit(context.Background(), 1, outsider)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.History(context.Background(), 1, outsider)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceCancelWritesAudit(t *testing.T) {
	f := newFixture(draft(1, "2000"))
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)
	order, err := f.svc.Cancel(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, order.Status)
	require.Len(t, f.repo.audits, 1)
	require.Equal(t, "PO_cancelled", f.repo.audits[0].Action)

	_, err = f.svc.Approve(ctx, 1, gerente)
	require.ErrorIs(t, err, shared.ErrPrecondition)
}
