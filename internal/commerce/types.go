package commerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Shop is the normalized venue record.
type Shop struct {
	ID   string
	Name string
	Open bool
}

// MenuItem is a single orderable product on a shop menu.
type MenuItem struct {
	ID              string
	Name            string
	Category        string
	Price           decimal.Decimal
	DoubleShotPrice decimal.Decimal
	MixersAllowed   bool
}

// CartKey addresses a remote cart: device id for guests, user id once
// authenticated. Exactly the (deviceId, userId?) pair of the vendor API.
type CartKey struct {
	DeviceID string
	UserID   string
}

// RemoteLine is a cart line as held by the vendor.
type RemoteLine struct {
	LineID              string
	ProductID           string
	Name                string
	UnitPrice           decimal.Decimal
	Quantity            int
	DoubleShotCount     int
	DoubleShotUnitPrice decimal.Decimal
	MixerName           *string
	SpecialInstructions *string
	ShopID              string
}

// RemoteCart is the vendor-held cart snapshot.
type RemoteCart struct {
	Lines []RemoteLine
}

// CreateOrderRequest carries everything the vendor needs to create an order.
type CreateOrderRequest struct {
	TransactionID string
	DeviceID      string
	UserID        string
	ShopID        string
	TableNumber   string
	OrderTypeCode string
	Total         decimal.Decimal
	Lines         []RemoteLine
}

// CreateOrderResponse is the normalized order-creation result.
type CreateOrderResponse struct {
	OrderID        string
	RemoteStatusID string
}

// RemoteOrder is the vendor's view of a placed order.
type RemoteOrder struct {
	OrderID        string
	RemoteStatusID string
	ShopID         string
}

// flexString tolerates vendor payloads that send the same field as either a
// JSON string or a number ("1" vs 1).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}

// flexBool tolerates true/false, "1"/"0", 1/0 and "true"/"false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "", "null":
		*f = false
	case "true", "1":
		*f = true
	case "false", "0":
		*f = false
	default:
		return fmt.Errorf("cannot interpret %s as bool", data)
	}
	return nil
}

// flexDecimal tolerates prices sent as "9.00", 9 or 9.0.
type flexDecimal decimal.Decimal

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = flexDecimal(decimal.Zero)
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("cannot interpret %q as decimal: %w", raw, err)
	}
	*f = flexDecimal(d)
	return nil
}

func (f flexDecimal) Decimal() decimal.Decimal {
	return decimal.Decimal(f)
}

// flexInt tolerates counts sent as "2" or 2.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("cannot interpret %q as int: %w", raw, err)
	}
	*f = flexInt(n)
	return nil
}
