package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tapdine/tapdine-backend/pkg/db/models"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.OrderRecord{}, &models.OrderLine{}))
	return db
}

func journalRecord(deviceID string, status enums.FulfillmentStatus) *models.OrderRecord {
	id := uuid.New()
	return &models.OrderRecord{
		ID:            id,
		RemoteOrderID: "remote-" + id.String()[:8],
		TransactionID: "txn-" + id.String(),
		DeviceID:      deviceID,
		ShopID:        "shop-1",
		OrderType:     enums.OrderTypeBar,
		Status:        status,
		Total:         "25.00",
		Lines: []models.OrderLine{
			{
				ID:        uuid.New(),
				OrderID:   id,
				ProductID: "prod-1",
				Name:      "Mojito",
				UnitPrice: "12.50",
				Quantity:  2,
				ShopID:    "shop-1",
			},
		},
		PlacedAt: time.Now().UTC(),
	}
}

func TestRepositorySaveAndGetRoundTrip(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	record := journalRecord("dev-1", enums.FulfillmentStatusProposed)
	require.NoError(t, repo.Save(context.Background(), record))

	loaded, err := repo.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.TransactionID, loaded.TransactionID)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "Mojito", loaded.Lines[0].Name)
}

func TestRepositoryGetUnknownOrderIsNotFound(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRepositoryTransactionIDLookup(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	record := journalRecord("dev-1", enums.FulfillmentStatusProposed)
	require.NoError(t, repo.Save(context.Background(), record))

	loaded, err := repo.GetByTransactionID(context.Background(), record.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, loaded.ID)
}

func TestRepositoryDuplicateTransactionIDRejected(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	first := journalRecord("dev-1", enums.FulfillmentStatusProposed)
	require.NoError(t, repo.Save(context.Background(), first))

	duplicate := journalRecord("dev-1", enums.FulfillmentStatusProposed)
	duplicate.TransactionID = first.TransactionID
	require.Error(t, repo.Save(context.Background(), duplicate))
}

func TestRepositoryListOngoingScopesAndFilters(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	mine := journalRecord("dev-1", enums.FulfillmentStatusReserved)
	theirs := journalRecord("dev-2", enums.FulfillmentStatusReserved)
	done := journalRecord("dev-1", enums.FulfillmentStatusCompleted)
	userID := "user-1"
	accountOrder := journalRecord("dev-3", enums.FulfillmentStatusProposed)
	accountOrder.UserID = &userID

	for _, record := range []*models.OrderRecord{mine, theirs, done, accountOrder} {
		require.NoError(t, repo.Save(context.Background(), record))
	}

	records, err := repo.ListOngoing(context.Background(), "dev-1", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mine.ID, records[0].ID)

	// A member sees account orders placed from another device too.
	records, err = repo.ListOngoing(context.Background(), "dev-1", userID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRepositoryListActiveSkipsTerminal(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	active := journalRecord("dev-1", enums.FulfillmentStatusPrepared)
	canceled := journalRecord("dev-1", enums.FulfillmentStatusCanceled)
	require.NoError(t, repo.Save(context.Background(), active))
	require.NoError(t, repo.Save(context.Background(), canceled))

	records, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, active.ID, records[0].ID)
}

func TestRepositoryUpdateStatus(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo, err := NewRepository(db)
	require.NoError(t, err)

	record := journalRecord("dev-1", enums.FulfillmentStatusProposed)
	require.NoError(t, repo.Save(context.Background(), record))

	require.NoError(t, repo.UpdateStatus(context.Background(), record.ID, enums.FulfillmentStatusCompleted))

	loaded, err := repo.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCompleted, loaded.Status)

	err = repo.UpdateStatus(context.Background(), uuid.New(), enums.FulfillmentStatusCompleted)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	err = repo.UpdateStatus(context.Background(), record.ID, enums.FulfillmentStatus("bogus"))
	require.Error(t, err)
}
