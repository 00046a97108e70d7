package enums

import "fmt"

// OrderType distinguishes bar pickup from table service.
type OrderType string

const (
	OrderTypeBar   OrderType = "bar"
	OrderTypeTable OrderType = "table"
)

var validOrderTypes = []OrderType{
	OrderTypeBar,
	OrderTypeTable,
}

// String implements fmt.Stringer.
func (o OrderType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderType.
func (o OrderType) IsValid() bool {
	for _, candidate := range validOrderTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// RemoteCode returns the wire code the commerce vendor expects:
// "1" for bar pickup, "2" for table service.
func (o OrderType) RemoteCode() string {
	if o == OrderTypeTable {
		return "2"
	}
	return "1"
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	for _, candidate := range validOrderTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order type %q", value)
}
