package conditional

import (
	"time"

	"github.com/google/uuid"
)

// Status of a conditional (consignment) order.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Order is a consignment order whose goods must be returned or bought by
// ExpiryDate.
type Order struct {
	ID             int64     `json:"id"`
	OrgID          int64     `json:"org_id"`
	Number         string    `json:"number"`
	SupplierID     int64     `json:"supplier_id"`
	ExpiryDate     time.Time `json:"expiry_date"`
	ExtensionCount int       `json:"extension_count"`
	Status         Status    `json:"status"`
	CreatedBy      int64     `json:"created_by"`
}

// Extension is the immutable record of one deadline extension.
type Extension struct {
	ID             uuid.UUID `json:"id"`
	OrderID        int64     `json:"order_id"`
	Sequence       int       `json:"sequence"`
	DaysAdded      int       `json:"days_added"`
	Justification  string    `json:"justification"`
	PreviousExpiry time.Time `json:"previous_expiry"`
	NewExpiry      time.Time `json:"new_expiry"`
	RequestedBy    int64     `json:"requested_by"`
	CreatedAt      time.Time `json:"created_at"`
}
