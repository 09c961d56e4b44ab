package conditional

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/retifica-erp/retifica/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	Extensions(ctx context.Context, orderID int64) ([]Extension, error)
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockOrder(ctx context.Context, id int64) (Order, error)
	// UpdateExpiry writes the new expiry only while extension_count still
	// equals prevCount.
	UpdateExpiry(ctx context.Context, id int64, prevCount int, expiry time.Time, count int) error
	InsertExtension(ctx context.Context, ext Extension) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// NoticeKind distinguishes conditional order notices.
type NoticeKind string

const (
	NoticeExtended NoticeKind = "extended"
	NoticeExpiring NoticeKind = "expiring"
)

// Notice informs users about a conditional order deadline.
type Notice struct {
	Kind       NoticeKind `json:"kind"`
	OrderID    int64      `json:"order_id"`
	OrgID      int64      `json:"org_id"`
	Number     string     `json:"number"`
	ExpiryDate time.Time  `json:"expiry_date"`
	DaysAdded  int        `json:"days_added,omitempty"`
	Recipients []string   `json:"recipients"`
}

// Notifier delivers notices. Delivery is best-effort.
type Notifier interface {
	NotifyConditional(ctx context.Context, notice Notice) error
}

// Service manages deadline extensions of conditional orders.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service. notifier may be nil.
func NewService(repo RepositoryPort, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

// Get returns a conditional order of the actor's organization.
func (s *Service) Get(ctx context.Context, id int64, actor shared.Actor) (Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if order.OrgID != actor.OrgID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// Extensions lists the extensions of an order by sequence.
func (s *Service) Extensions(ctx context.Context, id int64, actor shared.Actor) ([]Extension, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.repo.Extensions(ctx, id)
}

// Extend applies one deadline extension.
func (s *Service) Extend(ctx context.Context, id int64, days int, justification string, actor shared.Actor) (Order, Extension, error) {
	var (
		updated Order
		ext     Extension
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if current.OrgID != actor.OrgID {
			return ErrOrderNotFound
		}
		updated, ext, err = Extend(current, days, justification, actor.ID, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateExpiry(ctx, id, current.ExtensionCount, updated.ExpiryDate, updated.ExtensionCount); err != nil {
			return err
		}
		if err := tx.InsertExtension(ctx, ext); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			OrgID:    current.OrgID,
			Action:   "CONDITIONAL_EXTEND",
			Entity:   "conditional_order",
			EntityID: strconv.FormatInt(id, 10),
			Meta: map[string]any{
				"sequence":        ext.Sequence,
				"days_added":      ext.DaysAdded,
				"previous_expiry": ext.PreviousExpiry.Format(time.DateOnly),
				"new_expiry":      ext.NewExpiry.Format(time.DateOnly),
			},
		})
	})
	if err != nil {
		return Order{}, Extension{}, err
	}
	s.notify(ctx, Notice{
		Kind:       NoticeExtended,
		OrderID:    updated.ID,
		OrgID:      updated.OrgID,
		Number:     updated.Number,
		ExpiryDate: updated.ExpiryDate,
		DaysAdded:  ext.DaysAdded,
		Recipients: []string{strconv.FormatInt(updated.CreatedBy, 10)},
	})
	return updated, ext, nil
}

// ExpiringWithin lists open orders expiring between today and days from now.
func (s *Service) ExpiringWithin(ctx context.Context, days int) ([]Order, error) {
	from := s.now().Truncate(24 * time.Hour)
	return s.repo.ExpiringBetween(ctx, from, from.AddDate(0, 0, days))
}

// RemindExpiring notifies creators of orders expiring within days. It returns
// the number of reminders handed to the notifier.
func (s *Service) RemindExpiring(ctx context.Context, days int) (int, error) {
	orders, err := s.ExpiringWithin(ctx, days)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, o := range orders {
		if s.notify(ctx, Notice{
			Kind:       NoticeExpiring,
			OrderID:    o.ID,
			OrgID:      o.OrgID,
			Number:     o.Number,
			ExpiryDate: o.ExpiryDate,
			Recipients: []string{strconv.FormatInt(o.CreatedBy, 10)},
		}) {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) notify(ctx context.Context, notice Notice) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.NotifyConditional(ctx, notice); err != nil {
		s.logger.Warn("conditional notification", slog.Int64("order_id", notice.OrderID), slog.String("kind", string(notice.Kind)), slog.Any("error", err))
		return false
	}
	return true
}
