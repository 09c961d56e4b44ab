package approvals

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RejectRequest is the body of a rejection.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// EscalateRequest is the optional body of a manual escalation.
type EscalateRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// OrderResponse wraps an order after a transition.
type OrderResponse struct {
	Order Order `json:"order"`
}

// HistoryResponse lists the approval trail of an order.
type HistoryResponse struct {
	OrderID int64          `json:"order_id"`
	Events  []HistoryEvent `json:"events"`
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

func (r *RejectRequest) normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *EscalateRequest) normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}
