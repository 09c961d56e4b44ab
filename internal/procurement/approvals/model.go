package approvals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates purchase order states.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusSent            Status = "sent"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
)

// Action is the kind of an approval history event.
type Action string

const (
	ActionSent      Action = "enviado"
	ActionApproved  Action = "aprovado"
	ActionRejected  Action = "rejeitado"
	ActionEscalated Action = "escalado"
)

// RequiredLevel is the authority an event demanded.
type RequiredLevel string

const (
	LevelAuto    RequiredLevel = "auto"
	LevelGerente RequiredLevel = "gerente"
	LevelAdmin   RequiredLevel = "admin"
)

// Order is the part of a purchase order the approval engine reads and writes.
type Order struct {
	ID         int64           `json:"id"`
	OrgID      int64           `json:"org_id"`
	Number     string          `json:"number"`
	TotalValue decimal.Decimal `json:"total_value"`
	Status     Status          `json:"status"`
	CreatedBy  int64           `json:"created_by"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// HistoryEvent is one append-only entry of an order's approval trail.
type HistoryEvent struct {
	ID              uuid.UUID     `json:"id"`
	OrderID         int64         `json:"order_id"`
	Action          Action        `json:"action"`
	RequiredLevel   RequiredLevel `json:"required_level"`
	PerformedBy     string        `json:"performed_by"`
	PerformedAt     time.Time     `json:"performed_at"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
}

// Vote records one approver acknowledgement. A vote is unique per
// (order, actor) and per (order, position).
type Vote struct {
	OrderID  int64     `json:"order_id"`
	ActorID  int64     `json:"actor_id"`
	Approver string    `json:"approver"`
	Position int       `json:"position"`
	At       time.Time `json:"at"`
}

// Escalation moves approval authority of a pending order to a new approver set.
type Escalation struct {
	OrderID     int64         `json:"order_id"`
	Approvers   []string      `json:"approvers"`
	Level       RequiredLevel `json:"level"`
	Reason      string        `json:"reason"`
	EscalatedBy string        `json:"escalated_by"`
	At          time.Time     `json:"at"`
}

// Snapshot is everything a decision needs about one order.
type Snapshot struct {
	Order      Order
	Policy     Policy
	Votes      []Vote
	Escalation *Escalation
}

// Transition is the outcome of a machine operation. Persisting it is the
// caller's job.
type Transition struct {
	From       Status
	To         Status
	Events     []HistoryEvent
	Vote       *Vote
	Escalation *Escalation
}

// Changed reports whether the order status moves.
func (t Transition) Changed() bool {
	return t.From != t.To
}

func strPtr(s string) *string {
	return &s
}
