package fulfillment

import (
	"strings"

	"github.com/tapdine/tapdine-backend/pkg/enums"
)

// remoteStates maps the vendor's fulfillment state codes and names onto the
// local enum. The vendor sends either the numeric code or the state name
// depending on the endpoint version.
var remoteStates = map[string]enums.FulfillmentStatus{
	"1":         enums.FulfillmentStatusProposed,
	"proposed":  enums.FulfillmentStatusProposed,
	"2":         enums.FulfillmentStatusReserved,
	"reserved":  enums.FulfillmentStatusReserved,
	"3":         enums.FulfillmentStatusPrepared,
	"prepared":  enums.FulfillmentStatusPrepared,
	"4":         enums.FulfillmentStatusCompleted,
	"completed": enums.FulfillmentStatusCompleted,
	"5":         enums.FulfillmentStatusCanceled,
	"canceled":  enums.FulfillmentStatusCanceled,
	"cancelled": enums.FulfillmentStatusCanceled,
	"6":         enums.FulfillmentStatusFailed,
	"failed":    enums.FulfillmentStatusFailed,
}

// mapRemoteState normalizes a vendor state value. Anything unrecognized
// maps to unknown; callers must retain the previous status in that case
// rather than regress.
func mapRemoteState(raw string) enums.FulfillmentStatus {
	if mapped, ok := remoteStates[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return enums.FulfillmentStatusUnknown
}
