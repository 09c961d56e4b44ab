package conditional

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retifica-erp/retifica/internal/shared"
)

// MaxExtensions is the number of extensions an order may ever receive.
const MaxExtensions = 2

// maxDays holds the day bound of each extension, indexed by the number of
// extensions already granted.
var maxDays = [MaxExtensions]int{7, 3}

// CanExtend reports whether another extension is allowed.
func CanExtend(count int) bool {
	return count < MaxExtensions
}

// MaxDaysFor returns the day bound for the next extension given the current
// count, and false once the limit is reached.
func MaxDaysFor(count int) (int, bool) {
	if count < 0 || !CanExtend(count) {
		return 0, false
	}
	return maxDays[count], true
}

// Extend pushes the expiry of order by days. The bound depends on the count
// at call time. An exhausted allowance is reported before the order status.
func Extend(order Order, days int, justification string, requestedBy int64, now time.Time) (Order, Extension, error) {
	limit, ok := MaxDaysFor(order.ExtensionCount)
	if !ok {
		return Order{}, Extension{}, &shared.LimitExceededError{What: "deadline extension", Limit: MaxExtensions}
	}
	if order.Status != StatusOpen {
		return Order{}, Extension{}, &shared.PreconditionError{Entity: "conditional_order", ID: order.ID, State: string(order.Status), Reason: "only open orders can be extended"}
	}
	verr := &shared.ValidationError{}
	if days < 1 || days > limit {
		verr.Add("days_added", fmt.Sprintf("must be between 1 and %d for extension %d", limit, order.ExtensionCount+1))
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		verr.Add("justification", "is required")
	}
	if !verr.Empty() {
		return Order{}, Extension{}, verr
	}

	ext := Extension{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Sequence:       order.ExtensionCount + 1,
		DaysAdded:      days,
		Justification:  justification,
		PreviousExpiry: order.ExpiryDate,
		NewExpiry:      order.ExpiryDate.AddDate(0, 0, days),
		RequestedBy:    requestedBy,
		CreatedAt:      now,
	}
	order.ExpiryDate = ext.NewExpiry
	order.ExtensionCount++
	return order, ext, nil
}
