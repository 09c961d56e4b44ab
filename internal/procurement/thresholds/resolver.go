package thresholds

import (
	"context"

	"github.com/shopspring/decimal"
)

var (
	autoCeiling   = decimal.NewFromInt(1000)
	singleCeiling = decimal.NewFromInt(5000)
)

// DefaultType is the ladder used when no tier matches. It never yields
// multiple or chain, and auto only below 1000.
func DefaultType(value decimal.Decimal) ApprovalType {
	switch {
	case value.LessThan(autoCeiling):
		return TypeAuto
	case value.LessThan(singleCeiling):
		return TypeSingle
	default:
		return TypeSingle
	}
}

// Resolve maps value onto the snapshot. It is total: every value yields
// exactly one approval type.
func Resolve(snapshot []Threshold, value decimal.Decimal) Resolution {
	for _, t := range activeSorted(snapshot) {
		if t.Range.Contains(value) {
			matched := t
			return Resolution{Type: matched.Type, Threshold: &matched}
		}
	}
	return Resolution{Type: DefaultType(value), Fallback: true}
}

// NextTierAbove returns the active tier with the smallest MinValue strictly
// greater than floor.
func NextTierAbove(snapshot []Threshold, floor decimal.Decimal) *Threshold {
	for _, t := range activeSorted(snapshot) {
		if t.Range.Min.GreaterThan(floor) {
			next := t
			return &next
		}
	}
	return nil
}

// SnapshotSource loads the active thresholds of an organization.
type SnapshotSource interface {
	ListActive(ctx context.Context, orgID int64) ([]Threshold, error)
}

// Resolver resolves purchase values against the current configuration.
type Resolver struct {
	source SnapshotSource
	cache  *SnapshotCache
}

// NewResolver builds a Resolver. cache may be nil.
func NewResolver(source SnapshotSource, cache *SnapshotCache) *Resolver {
	return &Resolver{source: source, cache: cache}
}

// Snapshot returns the active thresholds of orgID sorted by MinValue.
func (r *Resolver) Snapshot(ctx context.Context, orgID int64) ([]Threshold, error) {
	snapshot, err := r.cache.Load(ctx, orgID, r.source.ListActive)
	if err != nil {
		return nil, err
	}
	return activeSorted(snapshot), nil
}

// Resolve loads the snapshot for orgID and resolves value against it.
func (r *Resolver) Resolve(ctx context.Context, orgID int64, value decimal.Decimal) (Resolution, error) {
	snapshot, err := r.Snapshot(ctx, orgID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(snapshot, value), nil
}

// NextTier returns the tier above the one governing value, if configured.
func (r *Resolver) NextTier(ctx context.Context, orgID int64, value decimal.Decimal) (*Threshold, error) {
	snapshot, err := r.Snapshot(ctx, orgID)
	if err != nil {
		return nil, err
	}
	floor := value
	if res := Resolve(snapshot, value); res.Threshold != nil {
		floor = res.Threshold.Range.Min
	}
	return NextTierAbove(snapshot, floor), nil
}
