package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tapdine/tapdine-backend/pkg/enums"
)

// OrderRecord journals a placed order so the ongoing-orders list survives
// restarts. The remote commerce vendor owns the order itself; this row only
// carries the identifiers needed to track it plus a snapshot of what was
// submitted.
type OrderRecord struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	RemoteOrderID  string                  `gorm:"column:remote_order_id;not null;index"`
	TransactionID  string                  `gorm:"column:transaction_id;not null;uniqueIndex"`
	RemoteStatusID *string                 `gorm:"column:remote_status_id"`
	DeviceID       string                  `gorm:"column:device_id;not null;index"`
	UserID         *string                 `gorm:"column:user_id;index"`
	ShopID         string                  `gorm:"column:shop_id;not null"`
	TableNumber    *string                 `gorm:"column:table_number"`
	OrderType      enums.OrderType         `gorm:"column:order_type;not null"`
	Status         enums.FulfillmentStatus `gorm:"column:status;not null;default:'unknown'"`
	Total          string                  `gorm:"column:total;not null"`
	Lines          []OrderLine             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PlacedAt       time.Time               `gorm:"column:placed_at;not null"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (OrderRecord) TableName() string { return "order_records" }

// OrderLine snapshots a submitted cart line on the order journal.
type OrderLine struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID           string    `gorm:"column:product_id;not null"`
	Name                string    `gorm:"column:name;not null"`
	UnitPrice           string    `gorm:"column:unit_price;not null"`
	Quantity            int       `gorm:"column:quantity;not null"`
	DoubleShotCount     int       `gorm:"column:double_shot_count;not null;default:0"`
	DoubleShotUnitPrice string    `gorm:"column:double_shot_unit_price;not null;default:'0'"`
	MixerName           *string   `gorm:"column:mixer_name"`
	SpecialInstructions *string   `gorm:"column:special_instructions"`
	ShopID              string    `gorm:"column:shop_id;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (OrderLine) TableName() string { return "order_lines" }
