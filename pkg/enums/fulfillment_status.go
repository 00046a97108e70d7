package enums

import "fmt"

// FulfillmentStatus tracks the remote kitchen/bar preparation state of a
// placed order. It is distinct from payment status.
type FulfillmentStatus string

const (
	FulfillmentStatusProposed  FulfillmentStatus = "proposed"
	FulfillmentStatusReserved  FulfillmentStatus = "reserved"
	FulfillmentStatusPrepared  FulfillmentStatus = "prepared"
	FulfillmentStatusCompleted FulfillmentStatus = "completed"
	FulfillmentStatusCanceled  FulfillmentStatus = "canceled"
	FulfillmentStatusFailed    FulfillmentStatus = "failed"
	FulfillmentStatusUnknown   FulfillmentStatus = "unknown"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusProposed,
	FulfillmentStatusReserved,
	FulfillmentStatusPrepared,
	FulfillmentStatusCompleted,
	FulfillmentStatusCanceled,
	FulfillmentStatusFailed,
	FulfillmentStatusUnknown,
}

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (f FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// IsTerminal reports whether polling should stop once this status is reached.
func (f FulfillmentStatus) IsTerminal() bool {
	switch f {
	case FulfillmentStatusCompleted, FulfillmentStatusCanceled, FulfillmentStatusFailed:
		return true
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
