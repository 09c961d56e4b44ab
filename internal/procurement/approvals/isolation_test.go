package approvals

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/shared"
)

// committedStore behaves like the PostgreSQL repository at read committed:
// LockOrder blocks until the holder's transaction ends and every read after
// it sees the rows committed so far. Writes become visible at commit.
type committedStore struct {
	mu          sync.Mutex
	orders      map[int64]Order
	votes       map[int64][]Vote
	escalations map[int64]Escalation
	history     []HistoryEvent
	locks       map[int64]*sync.Mutex
	began       chan struct{}
	onLocked    func()
}

type committedTx struct {
	store       *committedStore
	orders      map[int64]Order
	votes       []Vote
	escalations []Escalation
	history     []HistoryEvent
	held        []*sync.Mutex
}

func newCommittedStore(orders ...Order) *committedStore {
	s := &committedStore{
		orders:      make(map[int64]Order),
		votes:       make(map[int64][]Vote),
		escalations: make(map[int64]Escalation),
		locks:       make(map[int64]*sync.Mutex),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *committedStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if s.began != nil {
		s.began <- struct{}{}
	}
	tx := &committedTx{store: s, orders: make(map[int64]Order)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for _, v := range tx.votes {
		s.votes[v.OrderID] = append(s.votes[v.OrderID], v)
	}
	for _, e := range tx.escalations {
		s.escalations[e.OrderID] = e
	}
	s.history = append(s.history, tx.history...)
	return nil
}

func (s *committedStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *committedStore) History(ctx context.Context, orderID int64) ([]HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEvent
	for _, e := range s.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *committedStore) ListIdlePending(ctx context.Context, idleSince time.Time, after IdleCursor, limit int) ([]IdleOrder, error) {
	return nil, nil
}

func (tx *committedTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
}

func (tx *committedTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	s := tx.store
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	tx.held = append(tx.held, m)
	if s.onLocked != nil {
		s.onLocked()
	}
	return tx.order(id)
}

func (tx *committedTx) order(id int64) (Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o, nil
	}
	return tx.store.GetOrder(context.Background(), id)
}

func (tx *committedTx) Votes(ctx context.Context, orderID int64) ([]Vote, error) {
	tx.store.mu.Lock()
	out := append([]Vote(nil), tx.store.votes[orderID]...)
	tx.store.mu.Unlock()
	for _, v := range tx.votes {
		if v.OrderID == orderID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (tx *committedTx) Escalation(ctx context.Context, orderID int64) (*Escalation, error) {
	for _, e := range tx.escalations {
		if e.OrderID == orderID {
			return &e, nil
		}
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	e, ok := tx.store.escalations[orderID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (tx *committedTx) InsertVote(ctx context.Context, v Vote) error {
	votes, _ := tx.Votes(ctx, v.OrderID)
	for _, existing := range votes {
		if existing.ActorID == v.ActorID || existing.Position == v.Position {
			return &shared.PreconditionError{Entity: "purchase_order", ID: v.OrderID, State: string(StatusPendingApproval), Reason: "vote already recorded"}
		}
	}
	tx.votes = append(tx.votes, v)
	return nil
}

func (tx *committedTx) InsertEscalation(ctx context.Context, e Escalation) error {
	tx.escalations = append(tx.escalations, e)
	return nil
}

func (tx *committedTx) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	o, err := tx.order(id)
	if err != nil {
		return err
	}
	if o.Status != from {
		return &shared.PreconditionError{Entity: "purchase_order", ID: id, State: string(o.Status)}
	}
	o.Status = to
	tx.orders[id] = o
	return nil
}

func (tx *committedTx) AppendHistory(ctx context.Context, events []HistoryEvent) error {
	tx.history = append(tx.history, events...)
	return nil
}

func (tx *committedTx) RecordAudit(ctx context.Context, log shared.AuditLog) error { return nil }

// pairedDecisions makes the first lock holder wait until a second transaction
// has started, so both decisions begin before either one commits.
func pairedDecisions(store *committedStore) {
	began := make(chan struct{}, 2)
	store.began = began
	var first sync.Once
	store.onLocked = func() {
		first.Do(func() {
			<-began
			<-began
		})
	}
}

func committedService(store *committedStore) *Service {
	source := &tierSource{tiers: standardTiers()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, thresholds.NewResolver(source, nil), nil, &recordingNotifier{}, &recordingWorkflow{}, logger)
	svc.now = func() time.Time { return now }
	return svc
}

func concurrently(actors ...func() error) []error {
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	for i := range actors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = actors[i]()
		}(i)
	}
	wg.Wait()
	return errs
}

func TestConcurrentMultipleApprovalsBothCount(t *testing.T) {
	store := newCommittedStore(draft(1, "2000"))
	svc := committedService(store)
	ctx := context.Background()
	_, err := svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	pairedDecisions(store)
	errs := concurrently(
		func() error { _, err := svc.Approve(ctx, 1, gerente); return err },
		func() error { _, err := svc.Approve(ctx, 1, otherMgr); return err },
	)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	order, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)
	require.Len(t, store.votes[1], 2)

	history, err := store.History(ctx, 1)
	require.NoError(t, err)
	partials, finals := 0, 0
	for _, e := range history {
		if e.Action != ActionApproved {
			continue
		}
		if e.Notes != nil {
			partials++
		} else {
			finals++
		}
	}
	require.Equal(t, 1, partials)
	require.Equal(t, 1, finals)
}

func TestConcurrentChainStepTakenOnce(t *testing.T) {
	store := newCommittedStore(draft(1, "8000"))
	svc := committedService(store)
	ctx := context.Background()
	_, err := svc.Submit(ctx, 1, buyer)
	require.NoError(t, err)

	pairedDecisions(store)
	errs := concurrently(
		func() error { _, err := svc.Approve(ctx, 1, gerente); return err },
		func() error { _, err := svc.Approve(ctx, 1, otherMgr); return err },
	)
	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			var seq *shared.SequenceError
			require.ErrorAs(t, err, &seq, "the loser sees the admin step next")
			require.Equal(t, 1, seq.Position)
		}
	}
	require.Equal(t, 1, failures)
	require.Len(t, store.votes[1], 1)

	order, err := svc.Approve(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)
}
