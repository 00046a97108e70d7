package enums

import "fmt"

// NavOrigin is the explicit arrived-from tag the UI carries into the order
// status view. Back navigation keys off this tag, never off the referrer.
type NavOrigin string

const (
	NavOriginPaymentSuccess NavOrigin = "payment-success"
	NavOriginOrdersList     NavOrigin = "orders-list"
)

var validNavOrigins = []NavOrigin{
	NavOriginPaymentSuccess,
	NavOriginOrdersList,
}

// String implements fmt.Stringer.
func (n NavOrigin) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NavOrigin.
func (n NavOrigin) IsValid() bool {
	for _, candidate := range validNavOrigins {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNavOrigin converts raw input into a NavOrigin.
func ParseNavOrigin(value string) (NavOrigin, error) {
	for _, candidate := range validNavOrigins {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid nav origin %q", value)
}
