package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
)

// Line is one cart entry. Every line belongs to exactly one shop; a cart
// never mixes lines from two shops.
type Line struct {
	LineID              string          `json:"line_id"`
	ProductID           string          `json:"product_id"`
	Name                string          `json:"name"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Quantity            int             `json:"quantity"`
	DoubleShotCount     int             `json:"double_shot_count"`
	DoubleShotUnitPrice decimal.Decimal `json:"double_shot_unit_price"`
	MixerName           *string         `json:"mixer_name,omitempty"`
	SpecialInstructions *string         `json:"special_instructions,omitempty"`
	ShopID              string          `json:"shop_id"`
}

// EffectiveUnitPrice is the base price plus the double-shot upcharge.
func (l Line) EffectiveUnitPrice() decimal.Decimal {
	if l.DoubleShotCount <= 0 {
		return l.UnitPrice
	}
	upcharge := l.DoubleShotUnitPrice.Mul(decimal.NewFromInt(int64(l.DoubleShotCount)))
	return l.UnitPrice.Add(upcharge)
}

// Total is the effective unit price multiplied by the quantity.
func (l Line) Total() decimal.Decimal {
	return l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// mergeKey identifies a line across tiers by its full customization. Line
// ids are assigned per tier and do not survive a merge, so they cannot be
// used for this.
func (l Line) mergeKey() string {
	mixer := ""
	if l.MixerName != nil {
		mixer = *l.MixerName
	}
	notes := ""
	if l.SpecialInstructions != nil {
		notes = *l.SpecialInstructions
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s", l.ShopID, l.ProductID, l.Quantity, l.DoubleShotCount, mixer, notes)
}

// Cart is the reconciled view of whichever tier is authoritative.
type Cart struct {
	Tier  enums.CartTier `json:"tier"`
	Lines []Line         `json:"lines"`
}

// ShopID returns the shop the cart is bound to, or "" when empty.
func (c Cart) ShopID() string {
	if len(c.Lines) == 0 {
		return ""
	}
	return c.Lines[0].ShopID
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Total recomputes the cart total from the current lines. Totals are never
// cached; every read walks the lines.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Total())
	}
	return total
}

func lineFromInput(input LineInput) (Line, error) {
	if input.ProductID == "" {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.ShopID == "" {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if input.Quantity <= 0 {
		return Line{}, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least one").
			WithDetails(map[string]any{"product_id": input.ProductID, "quantity": input.Quantity})
	}
	if input.DoubleShotCount < 0 {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "double shot count cannot be negative")
	}

	unitPrice, err := decimal.NewFromString(input.UnitPrice)
	if err != nil {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price is not a valid amount")
	}
	doubleShotPrice := decimal.Zero
	if input.DoubleShotUnitPrice != "" {
		doubleShotPrice, err = decimal.NewFromString(input.DoubleShotUnitPrice)
		if err != nil {
			return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "double shot price is not a valid amount")
		}
	}

	return Line{
		ProductID:           input.ProductID,
		Name:                input.Name,
		UnitPrice:           unitPrice,
		Quantity:            input.Quantity,
		DoubleShotCount:     input.DoubleShotCount,
		DoubleShotUnitPrice: doubleShotPrice,
		MixerName:           input.MixerName,
		SpecialInstructions: input.SpecialInstructions,
		ShopID:              input.ShopID,
	}, nil
}

func lineFromRemote(remote commerce.RemoteLine) Line {
	return Line{
		LineID:              remote.LineID,
		ProductID:           remote.ProductID,
		Name:                remote.Name,
		UnitPrice:           remote.UnitPrice,
		Quantity:            remote.Quantity,
		DoubleShotCount:     remote.DoubleShotCount,
		DoubleShotUnitPrice: remote.DoubleShotUnitPrice,
		MixerName:           remote.MixerName,
		SpecialInstructions: remote.SpecialInstructions,
		ShopID:              remote.ShopID,
	}
}

func (l Line) toRemote() commerce.RemoteLine {
	return commerce.RemoteLine{
		LineID:              l.LineID,
		ProductID:           l.ProductID,
		Name:                l.Name,
		UnitPrice:           l.UnitPrice,
		Quantity:            l.Quantity,
		DoubleShotCount:     l.DoubleShotCount,
		DoubleShotUnitPrice: l.DoubleShotUnitPrice,
		MixerName:           l.MixerName,
		SpecialInstructions: l.SpecialInstructions,
		ShopID:              l.ShopID,
	}
}

func linesFromRemote(remote *commerce.RemoteCart) []Line {
	if remote == nil {
		return nil
	}
	lines := make([]Line, 0, len(remote.Lines))
	for _, raw := range remote.Lines {
		lines = append(lines, lineFromRemote(raw))
	}
	return lines
}
