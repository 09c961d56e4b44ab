package approvals

import (
	"strings"
	"time"

	"github.com/retifica-erp/retifica/internal/shared"
)

// CanEscalate reports whether s is a pending multi-approver flow that has not
// been escalated yet.
func CanEscalate(s Snapshot) bool {
	if s.Order.Status != StatusPendingApproval || s.Escalation != nil {
		return false
	}
	switch s.Policy.(type) {
	case MultiplePolicy, ChainPolicy:
		return true
	}
	return false
}

// EscalationDue reports whether the timeout after lastActivity has elapsed
// for an escalatable order. The caller supplies the clock.
func EscalationDue(s Snapshot, lastActivity, now time.Time, after time.Duration) bool {
	if after <= 0 || !CanEscalate(s) {
		return false
	}
	return !now.Before(lastActivity.Add(after))
}

// Escalate hands remaining approval authority to target. The order status is
// unchanged. An empty target falls back to the admin role.
func Escalate(s Snapshot, target []string, performedBy, reason string, now time.Time) (Transition, error) {
	if err := requirePending(s.Order); err != nil {
		return Transition{}, err
	}
	if s.Escalation != nil {
		return Transition{}, precondition(s.Order, "already escalated")
	}
	if !CanEscalate(s) {
		return Transition{}, precondition(s.Order, "only multiple and chain approvals can be escalated")
	}
	if len(target) == 0 {
		target = []string{shared.RoleAdmin}
	}
	reason = strings.TrimSpace(reason)
	esc := &Escalation{
		OrderID:     s.Order.ID,
		Approvers:   append([]string(nil), target...),
		Level:       LevelAdmin,
		Reason:      reason,
		EscalatedBy: performedBy,
		At:          now,
	}
	event := newEvent(s.Order.ID, ActionEscalated, LevelAdmin, performedBy, now)
	if reason != "" {
		event.Notes = strPtr(reason)
	}
	return Transition{
		From:       s.Order.Status,
		To:         s.Order.Status,
		Events:     []HistoryEvent{event},
		Escalation: esc,
	}, nil
}
