package conditional

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/shared"
)

var (
	now    = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	expiry = time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
)

func openOrder(count int) Order {
	return Order{ID: 1, OrgID: 1, Number: "CND-1", SupplierID: 4, ExpiryDate: expiry, ExtensionCount: count, Status: StatusOpen, CreatedBy: 3}
}

func TestMaxDaysFor(t *testing.T) {
	d, ok := MaxDaysFor(0)
	require.True(t, ok)
	require.Equal(t, 7, d)
	d, ok = MaxDaysFor(1)
	require.True(t, ok)
	require.Equal(t, 3, d)
	_, ok = MaxDaysFor(2)
	require.False(t, ok)
	require.True(t, CanExtend(1))
	require.False(t, CanExtend(2))
}

func TestExtendBoundLaws(t *testing.T) {
	for days := 1; days <= 7; days++ {
		_, _, err := Extend(openOrder(0), days, "ok", 3, now)
		require.NoError(t, err, days)
	}
	for days := 1; days <= 3; days++ {
		_, _, err := Extend(openOrder(1), days, "ok", 3, now)
		require.NoError(t, err, days)
	}
	for _, days := range []int{0, 8, -1} {
		_, _, err := Extend(openOrder(0), days, "ok", 3, now)
		require.ErrorIs(t, err, shared.ErrValidation, days)
	}
	for _, days := range []int{0, 1, 3, 7} {
		_, _, err := Extend(openOrder(2), days, "ok", 3, now)
		var limit *shared.LimitExceededError
		require.ErrorAs(t, err, &limit, days)
		require.Equal(t, MaxExtensions, limit.Limit)
	}
}

func TestSecondExtensionCap(t *testing.T) {
	order := openOrder(1)

	_, _, err := Extend(order, 5, "ok", 3, now)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "days_added")

	updated, ext, err := Extend(order, 3, "ok", 3, now)
	require.NoError(t, err)
	require.Equal(t, 2, updated.ExtensionCount)
	require.Equal(t, 2, ext.Sequence)
	require.Equal(t, expiry, ext.PreviousExpiry)
	require.Equal(t, expiry.AddDate(0, 0, 3), updated.ExpiryDate)
	require.Equal(t, updated.ExpiryDate, ext.NewExpiry)

	_, _, err = Extend(updated, 1, "ok", 3, now)
	require.ErrorIs(t, err, shared.ErrLimitExceeded)
}

func TestExtendJustification(t *testing.T) {
	_, _, err := Extend(openOrder(0), 2, "   ", 3, now)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "justification")

	_, ext, err := Extend(openOrder(0), 2, "  customer still testing the head  ", 3, now)
	require.NoError(t, err)
	require.Equal(t, "customer still testing the head", ext.Justification)
}

func TestExtendClosedOrder(t *testing.T) {
	order := openOrder(0)
	order.Status = StatusClosed
	_, _, err := Extend(order, 2, "ok", 3, now)
	require.ErrorIs(t, err, shared.ErrPrecondition)
}

func TestExtendReportsExhaustedAllowanceBeforeStatus(t *testing.T) {
	order := openOrder(MaxExtensions)
	order.Status = StatusClosed
	_, _, err := Extend(order, 2, "ok", 3, now)
	var limit *shared.LimitExceededError
	require.ErrorAs(t, err, &limit)
	require.ErrorIs(t, err, shared.ErrLimitExceeded)
}
