package thresholds

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalType selects how a purchase in a tier is approved.
type ApprovalType string

const (
	TypeAuto     ApprovalType = "auto"
	TypeSingle   ApprovalType = "single"
	TypeMultiple ApprovalType = "multiple"
	TypeChain    ApprovalType = "chain"
)

// Valid reports whether t is a known approval type.
func (t ApprovalType) Valid() bool {
	switch t {
	case TypeAuto, TypeSingle, TypeMultiple, TypeChain:
		return true
	}
	return false
}

// Range is the half-open interval [Min, Max). An invalid Max means unbounded.
type Range struct {
	Min decimal.Decimal     `json:"min_value"`
	Max decimal.NullDecimal `json:"max_value"`
}

// Bounded reports whether the range has an upper limit.
func (r Range) Bounded() bool {
	return r.Max.Valid
}

// Contains reports min <= v < max.
func (r Range) Contains(v decimal.Decimal) bool {
	if v.LessThan(r.Min) {
		return false
	}
	return !r.Max.Valid || v.LessThan(r.Max.Decimal)
}

// Overlaps applies a.min < b.max && b.min < a.max with a missing max as +inf.
func (r Range) Overlaps(other Range) bool {
	return lessThanUpper(r.Min, other.Max) && lessThanUpper(other.Min, r.Max)
}

func lessThanUpper(v decimal.Decimal, upper decimal.NullDecimal) bool {
	return !upper.Valid || v.LessThan(upper.Decimal)
}

func (r Range) String() string {
	upper := "∞"
	if r.Max.Valid {
		upper = r.Max.Decimal.String()
	}
	return "[" + r.Min.String() + ", " + upper + ")"
}

// Threshold is one approval tier of an organization.
type Threshold struct {
	ID        int64        `json:"id"`
	OrgID     int64        `json:"org_id"`
	Range     Range        `json:"range"`
	Type      ApprovalType `json:"approval_type"`
	Approvers []string     `json:"approvers"`
	Label     string       `json:"label,omitempty"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Resolution is the outcome of mapping a value to a tier.
type Resolution struct {
	Type      ApprovalType
	Threshold *Threshold
	// Fallback is set when no configured tier matched and the default ladder applied.
	Fallback bool
}

// Approvers returns the approver references of the matched tier, if any.
func (r Resolution) Approvers() []string {
	if r.Threshold == nil {
		return nil
	}
	return append([]string(nil), r.Threshold.Approvers...)
}
