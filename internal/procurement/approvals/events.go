package approvals

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Notice describes a committed transition for user-facing alerting.
type Notice struct {
	OrderID     int64           `json:"order_id"`
	OrgID       int64           `json:"org_id"`
	Number      string          `json:"number"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Action      Action          `json:"action"`
	Status      Status          `json:"status"`
	Recipients  []string        `json:"recipients"`
	PerformedBy string          `json:"performed_by"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

// ApprovedEvent is published when an order reaches approved.
type ApprovedEvent struct {
	OrderID    int64           `json:"order_id"`
	OrgID      int64           `json:"org_id"`
	Number     string          `json:"number"`
	TotalValue decimal.Decimal `json:"total_value"`
	ApprovedAt time.Time       `json:"approved_at"`
}

// Notifier delivers notices. Delivery is best-effort.
type Notifier interface {
	NotifyApproval(ctx context.Context, notice Notice) error
}

// WorkflowAdvancer lets downstream fulfilment react to approved orders.
type WorkflowAdvancer interface {
	AdvanceApproved(ctx context.Context, evt ApprovedEvent) error
}

// Observer counts status transitions.
type Observer interface {
	ApprovalTransition(from, to string)
}
