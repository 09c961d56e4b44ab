package approvals

import (
	"fmt"

	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/shared"
)

// Policy is the approval rule governing an order. The set of implementations
// is closed; consumers switch over the concrete types.
type Policy interface {
	Type() thresholds.ApprovalType
	policy()
}

// AutoPolicy approves without human involvement.
type AutoPolicy struct{}

// SinglePolicy finalizes on the first eligible approval.
type SinglePolicy struct {
	Approvers []string
}

// MultiplePolicy needs every listed approver, in any order.
type MultiplePolicy struct {
	Approvers []string
}

// ChainPolicy needs every listed approver, in list order.
type ChainPolicy struct {
	Approvers []string
}

func (AutoPolicy) Type() thresholds.ApprovalType     { return thresholds.TypeAuto }
func (SinglePolicy) Type() thresholds.ApprovalType   { return thresholds.TypeSingle }
func (MultiplePolicy) Type() thresholds.ApprovalType { return thresholds.TypeMultiple }
func (ChainPolicy) Type() thresholds.ApprovalType    { return thresholds.TypeChain }

func (AutoPolicy) policy()     {}
func (SinglePolicy) policy()   {}
func (MultiplePolicy) policy() {}
func (ChainPolicy) policy()    {}

// PolicyFor converts a resolver outcome into a Policy.
func PolicyFor(res thresholds.Resolution) Policy {
	approvers := res.Approvers()
	switch res.Type {
	case thresholds.TypeAuto:
		return AutoPolicy{}
	case thresholds.TypeMultiple:
		return MultiplePolicy{Approvers: approvers}
	case thresholds.TypeChain:
		return ChainPolicy{Approvers: approvers}
	default:
		return SinglePolicy{Approvers: approvers}
	}
}

// LevelOf returns the authority level a policy demands.
func LevelOf(p Policy) RequiredLevel {
	switch p.(type) {
	case AutoPolicy:
		return LevelAuto
	case SinglePolicy:
		return LevelGerente
	case MultiplePolicy, ChainPolicy:
		return LevelAdmin
	default:
		panic(fmt.Sprintf("approvals: unknown policy %T", p))
	}
}

// ApproversOf returns the approver references listed by p.
func ApproversOf(p Policy) []string {
	switch v := p.(type) {
	case AutoPolicy:
		return nil
	case SinglePolicy:
		return v.Approvers
	case MultiplePolicy:
		return v.Approvers
	case ChainPolicy:
		return v.Approvers
	default:
		panic(fmt.Sprintf("approvals: unknown policy %T", p))
	}
}

// checkConfigured fails for multi-approver policies with nobody to approve.
func checkConfigured(p Policy) error {
	switch v := p.(type) {
	case MultiplePolicy:
		if len(v.Approvers) == 0 {
			return &shared.ConfigurationError{Reason: "multiple approval policy has no approvers"}
		}
	case ChainPolicy:
		if len(v.Approvers) == 0 {
			return &shared.ConfigurationError{Reason: "chain approval policy has no approvers"}
		}
	}
	return nil
}
