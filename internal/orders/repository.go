package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tapdine/tapdine-backend/pkg/db/models"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
)

// Repository journals placed orders. The commerce vendor owns the orders
// themselves; these rows keep the ongoing-orders list and the fulfillment
// poller working across restarts.
type Repository interface {
	Save(ctx context.Context, record *models.OrderRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.OrderRecord, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.OrderRecord, error)
	ListOngoing(ctx context.Context, deviceID, userID string) ([]models.OrderRecord, error)
	ListActive(ctx context.Context) ([]models.OrderRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.FulfillmentStatus) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns the GORM-backed order journal.
func NewRepository(db *gorm.DB) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &gormRepository{db: db}, nil
}

var terminalStatuses = []enums.FulfillmentStatus{
	enums.FulfillmentStatusCompleted,
	enums.FulfillmentStatusCanceled,
	enums.FulfillmentStatusFailed,
}

func (r *gormRepository) Save(ctx context.Context, record *models.OrderRecord) error {
	if record == nil {
		return fmt.Errorf("order record required")
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "could not journal order")
	}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*models.OrderRecord, error) {
	var record models.OrderRecord
	err := r.db.WithContext(ctx).Preload("Lines").First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "could not load order")
	}
	return &record, nil
}

func (r *gormRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.OrderRecord, error) {
	var record models.OrderRecord
	err := r.db.WithContext(ctx).Preload("Lines").First(&record, "transaction_id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "could not load order")
	}
	return &record, nil
}

func (r *gormRepository) ListOngoing(ctx context.Context, deviceID, userID string) ([]models.OrderRecord, error) {
	query := r.db.WithContext(ctx).
		Preload("Lines").
		Where("status NOT IN ?", terminalStatuses).
		Order("placed_at DESC")
	if userID != "" {
		query = query.Where("device_id = ? OR user_id = ?", deviceID, userID)
	} else {
		query = query.Where("device_id = ?", deviceID)
	}

	var records []models.OrderRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "could not list ongoing orders")
	}
	return records, nil
}

// ListActive returns every non-terminal order regardless of owner. The
// fulfillment poller uses it to resume tracking after a restart.
func (r *gormRepository) ListActive(ctx context.Context) ([]models.OrderRecord, error) {
	var records []models.OrderRecord
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Order("placed_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "could not list active orders")
	}
	return records, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.FulfillmentStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid fulfillment status %q", status))
	}
	result := r.db.WithContext(ctx).
		Model(&models.OrderRecord{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "could not update order status")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}
