package approvals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
)

// SendForApproval moves a draft order into the approval flow. Auto policies
// approve immediately on behalf of the system.
func SendForApproval(order Order, policy Policy, actorID int64, now time.Time) (Transition, error) {
	if order.Status != StatusDraft {
		return Transition{}, precondition(order, "only draft orders can be sent for approval")
	}
	if err := checkConfigured(policy); err != nil {
		return Transition{}, err
	}
	if _, ok := policy.(AutoPolicy); ok {
		return Transition{
			From:   order.Status,
			To:     StatusApproved,
			Events: []HistoryEvent{newEvent(order.ID, ActionApproved, LevelAuto, shared.SystemActor, now)},
		}, nil
	}
	return Transition{
		From:   order.Status,
		To:     StatusPendingApproval,
		Events: []HistoryEvent{newEvent(order.ID, ActionSent, LevelOf(policy), refOf(actorID), now)},
	}, nil
}

// Approve records actor's approval under the policy in force and finalizes
// the order once the policy is satisfied. Votes recorded under an earlier
// configuration keep counting when their references are still listed.
func Approve(s Snapshot, actor shared.Actor, now time.Time) (Transition, error) {
	if err := requirePending(s.Order); err != nil {
		return Transition{}, err
	}
	if s.Escalation != nil {
		if !escalatedEligible(*s.Escalation, actor) {
			return Transition{}, notEligible(actor)
		}
		return final(s, ActionApproved, LevelAdmin, actor, nil, nil, now), nil
	}
	if err := checkConfigured(s.Policy); err != nil {
		return Transition{}, err
	}
	voted := hasVoted(s.Votes, actor.ID)
	alreadyApproved := func() error {
		return precondition(s.Order, fmt.Sprintf("actor %d already approved this order", actor.ID))
	}
	level := LevelOf(s.Policy)

	switch p := s.Policy.(type) {
	case AutoPolicy:
		return final(s, ActionApproved, level, actor, nil, nil, now), nil
	case SinglePolicy:
		ref, ok := rbac.MatchAny(actor, p.Approvers)
		if !ok {
			if !rbac.AtLeast(actor, shared.RoleGerente) {
				return Transition{}, notEligible(actor)
			}
			ref = actor.Role
		}
		if voted {
			return final(s, ActionApproved, level, actor, nil, nil, now), nil
		}
		return final(s, ActionApproved, level, actor, newVote(s, actor, ref, now), nil, now), nil
	case MultiplePolicy:
		outstanding := outstandingApprovers(p.Approvers, s.Votes)
		if len(outstanding) == 0 {
			if _, listed := rbac.MatchAny(actor, p.Approvers); !listed && !voted {
				return Transition{}, notEligible(actor)
			}
			return final(s, ActionApproved, level, actor, nil, nil, now), nil
		}
		if voted {
			return Transition{}, alreadyApproved()
		}
		ref, ok := rbac.MatchAny(actor, outstanding)
		if !ok {
			if _, listed := rbac.MatchAny(actor, p.Approvers); listed {
				return Transition{}, precondition(s.Order, "approver already satisfied")
			}
			return Transition{}, notEligible(actor)
		}
		vote := newVote(s, actor, ref, now)
		if len(outstanding) == 1 {
			return final(s, ActionApproved, level, actor, vote, nil, now), nil
		}
		done := len(p.Approvers) - len(outstanding) + 1
		return partial(s, level, actor, vote, fmt.Sprintf("approval %d of %d", done, len(p.Approvers)), now), nil
	case ChainPolicy:
		pos := chainProgress(p.Approvers, s.Votes)
		if pos >= len(p.Approvers) {
			if _, listed := rbac.MatchAny(actor, p.Approvers); !listed && !voted {
				return Transition{}, notEligible(actor)
			}
			return final(s, ActionApproved, level, actor, nil, nil, now), nil
		}
		if voted {
			return Transition{}, alreadyApproved()
		}
		expected := p.Approvers[pos]
		if !rbac.Matches(actor, expected) || reservedLater(actor, p.Approvers[pos+1:], expected) {
			if _, listed := rbac.MatchAny(actor, p.Approvers); listed {
				return Transition{}, &shared.SequenceError{Position: pos, Expected: expected, ActorID: actor.ID}
			}
			return Transition{}, notEligible(actor)
		}
		vote := newVote(s, actor, expected, now)
		progress := chainProgress(p.Approvers, append(append([]Vote(nil), s.Votes...), *vote))
		if progress >= len(p.Approvers) {
			return final(s, ActionApproved, level, actor, vote, nil, now), nil
		}
		return partial(s, level, actor, vote, fmt.Sprintf("step %d of %d", progress, len(p.Approvers)), now), nil
	default:
		panic(fmt.Sprintf("approvals: unknown policy %T", p))
	}
}

// Reject ends the approval cycle. Approvals collected so far do not carry over.
func Reject(s Snapshot, actor shared.Actor, reason string, now time.Time) (Transition, error) {
	if err := requirePending(s.Order); err != nil {
		return Transition{}, err
	}
	if s.Escalation == nil {
		if err := checkConfigured(s.Policy); err != nil {
			return Transition{}, err
		}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transition{}, shared.NewValidationError("rejection_reason", "is required")
	}
	if !CanDecide(s, actor) {
		return Transition{}, notEligible(actor)
	}
	level := LevelOf(s.Policy)
	if s.Escalation != nil {
		level = s.Escalation.Level
	}
	return final(s, ActionRejected, level, actor, nil, strPtr(reason), now), nil
}

// CanDecide reports whether actor is an authorized approver at the currently
// active policy level.
func CanDecide(s Snapshot, actor shared.Actor) bool {
	if s.Escalation != nil {
		return escalatedEligible(*s.Escalation, actor)
	}
	switch p := s.Policy.(type) {
	case AutoPolicy:
		return rbac.AtLeast(actor, shared.RoleGerente)
	case SinglePolicy:
		_, ok := rbac.MatchAny(actor, p.Approvers)
		return ok || rbac.AtLeast(actor, shared.RoleGerente)
	case MultiplePolicy:
		_, ok := rbac.MatchAny(actor, p.Approvers)
		return ok
	case ChainPolicy:
		_, ok := rbac.MatchAny(actor, p.Approvers)
		return ok
	default:
		panic(fmt.Sprintf("approvals: unknown policy %T", p))
	}
}

// Cancel is an administrative override from pending_approval, approved or sent.
func Cancel(order Order) (Transition, error) {
	switch order.Status {
	case StatusPendingApproval, StatusApproved, StatusSent:
		return Transition{From: order.Status, To: StatusCancelled}, nil
	}
	return Transition{}, precondition(order, "only pending, approved or sent orders can be cancelled")
}

// Advance moves an approved order along approved, sent, confirmed.
func Advance(order Order, to Status) (Transition, error) {
	switch {
	case order.Status == StatusApproved && to == StatusSent,
		order.Status == StatusSent && to == StatusConfirmed:
		return Transition{From: order.Status, To: to}, nil
	}
	return Transition{}, precondition(order, fmt.Sprintf("cannot move to %s", to))
}

func final(s Snapshot, action Action, level RequiredLevel, actor shared.Actor, vote *Vote, reason *string, now time.Time) Transition {
	to := StatusApproved
	if action == ActionRejected {
		to = StatusRejected
	}
	event := newEvent(s.Order.ID, action, level, actor.Ref(), now)
	event.RejectionReason = reason
	return Transition{From: s.Order.Status, To: to, Events: []HistoryEvent{event}, Vote: vote}
}

func partial(s Snapshot, level RequiredLevel, actor shared.Actor, vote *Vote, note string, now time.Time) Transition {
	event := newEvent(s.Order.ID, ActionApproved, level, actor.Ref(), now)
	event.Notes = strPtr(note)
	return Transition{From: s.Order.Status, To: s.Order.Status, Events: []HistoryEvent{event}, Vote: vote}
}

func newEvent(orderID int64, action Action, level RequiredLevel, by string, now time.Time) HistoryEvent {
	return HistoryEvent{
		ID:            uuid.New(),
		OrderID:       orderID,
		Action:        action,
		RequiredLevel: level,
		PerformedBy:   by,
		PerformedAt:   now,
	}
}

func newVote(s Snapshot, actor shared.Actor, ref string, now time.Time) *Vote {
	return &Vote{OrderID: s.Order.ID, ActorID: actor.ID, Approver: ref, Position: len(s.Votes), At: now}
}

// outstandingApprovers lists references no vote has satisfied yet.
func outstandingApprovers(approvers []string, votes []Vote) []string {
	satisfied := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		satisfied[v.Approver] = struct{}{}
	}
	out := make([]string, 0, len(approvers))
	for _, ref := range approvers {
		if _, ok := satisfied[ref]; !ok {
			out = append(out, ref)
		}
	}
	return out
}

// chainProgress counts the leading chain steps already satisfied by votes.
func chainProgress(approvers []string, votes []Vote) int {
	satisfied := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		satisfied[v.Approver] = struct{}{}
	}
	for i, ref := range approvers {
		if _, ok := satisfied[ref]; !ok {
			return i
		}
	}
	return len(approvers)
}

func hasVoted(votes []Vote, actorID int64) bool {
	for _, v := range votes {
		if v.ActorID == actorID {
			return true
		}
	}
	return false
}

// reservedLater reports whether actor matches step only through its role
// while a later step names the actor's own id. Taking the role step would
// leave that later step unsatisfiable.
func reservedLater(actor shared.Actor, later []string, step string) bool {
	own := actor.Ref()
	if strings.TrimSpace(step) == own {
		return false
	}
	for _, ref := range later {
		if strings.TrimSpace(ref) == own {
			return true
		}
	}
	return false
}

func escalatedEligible(e Escalation, actor shared.Actor) bool {
	if _, ok := rbac.MatchAny(actor, e.Approvers); ok {
		return true
	}
	return rbac.AtLeast(actor, shared.RoleAdmin)
}

func requirePending(order Order) error {
	if order.Status != StatusPendingApproval {
		return precondition(order, "approval decisions require pending_approval")
	}
	return nil
}

func precondition(order Order, reason string) error {
	return &shared.PreconditionError{Entity: "purchase_order", ID: order.ID, State: string(order.Status), Reason: reason}
}

func notEligible(actor shared.Actor) error {
	return fmt.Errorf("%w: actor %d is not an eligible approver", shared.ErrForbidden, actor.ID)
}

func refOf(id int64) string {
	return shared.Actor{ID: id}.Ref()
}
