package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tapdine/tapdine-backend/internal/cart"
	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/internal/payment"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/db/models"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type fakeRepo struct {
	records map[uuid.UUID]*models.OrderRecord
	byTx    map[string]*models.OrderRecord
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[uuid.UUID]*models.OrderRecord{}, byTx: map[string]*models.OrderRecord{}}
}

func (f *fakeRepo) Save(_ context.Context, record *models.OrderRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[record.ID] = record
	f.byTx[record.TransactionID] = record
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (*models.OrderRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return record, nil
}

func (f *fakeRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.OrderRecord, error) {
	record, ok := f.byTx[transactionID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return record, nil
}

func (f *fakeRepo) ListOngoing(_ context.Context, deviceID, userID string) ([]models.OrderRecord, error) {
	var out []models.OrderRecord
	for _, record := range f.records {
		if record.Status.IsTerminal() {
			continue
		}
		if record.DeviceID == deviceID || (userID != "" && record.UserID != nil && *record.UserID == userID) {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActive(_ context.Context) ([]models.OrderRecord, error) {
	var out []models.OrderRecord
	for _, record := range f.records {
		if !record.Status.IsTerminal() {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, status enums.FulfillmentStatus) error {
	record, ok := f.records[id]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	record.Status = status
	return nil
}

type fakeCarts struct {
	cart     *cart.Cart
	getErr   error
	clears   int
	clearErr error
}

func (f *fakeCarts) GetCart(context.Context, session.Context) (*cart.Cart, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.cart, nil
}

func (f *fakeCarts) ClearCart(context.Context, session.Context) (*cart.Cart, error) {
	f.clears++
	if f.clearErr != nil {
		return nil, f.clearErr
	}
	f.cart = &cart.Cart{Tier: f.cart.Tier}
	return f.cart, nil
}

type fakeCreator struct {
	calls    []commerce.CreateOrderRequest
	err      error
	release  chan struct{}
	started  chan struct{}
	onCreate func()
}

func (f *fakeCreator) CreateOrder(_ context.Context, req commerce.CreateOrderRequest) (*commerce.CreateOrderResponse, error) {
	f.calls = append(f.calls, req)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &commerce.CreateOrderResponse{OrderID: "remote-1", RemoteStatusID: "fs-1"}, nil
}

type fakePayments struct {
	confirmation payment.Confirmation
	err          error
	calls        int
}

func (f *fakePayments) Confirm(context.Context, string) (payment.Confirmation, error) {
	f.calls++
	if f.err != nil {
		return payment.Confirmation{}, f.err
	}
	return f.confirmation, nil
}

type fakeSessions struct {
	current session.Context
}

func (f *fakeSessions) Get(context.Context) session.Context {
	return f.current
}

func barSession() session.Context {
	return session.Context{DeviceID: "dev-1", ShopID: "shop-1", OrderType: enums.OrderTypeBar}
}

func testCart() *cart.Cart {
	return &cart.Cart{
		Tier: enums.CartTierTemp,
		Lines: []cart.Line{{
			LineID:    "line-1",
			ProductID: "prod-1",
			Name:      "Negroni",
			UnitPrice: decimal.RequireFromString("12.50"),
			Quantity:  2,
			ShopID:    "shop-1",
		}},
	}
}

func newTestOrderService(t *testing.T, carts *fakeCarts, creator *fakeCreator, payments paymentConfirmer, repo Repository, sessions *fakeSessions) Service {
	t.Helper()
	svc, err := NewService(carts, creator, payments, repo, sessions, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestPlaceJournalsOrderAndClearsCart(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	creator := &fakeCreator{}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	order, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if order.RemoteOrderID != "remote-1" {
		t.Fatalf("remote order id = %q", order.RemoteOrderID)
	}
	if order.Status != enums.FulfillmentStatusProposed {
		t.Fatalf("status = %s, want proposed", order.Status)
	}
	if !order.Total.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("total = %s, want 25.00", order.Total)
	}
	if len(repo.records) != 1 {
		t.Fatal("expected journaled record")
	}
	if carts.clears != 1 {
		t.Fatal("expected cart cleared after checkout")
	}
	if len(creator.calls) != 1 || creator.calls[0].TransactionID == "" {
		t.Fatal("expected one vendor call with a transaction id")
	}
}

func TestPlaceRejectsEmptyCart(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: &cart.Cart{Tier: enums.CartTierTemp}}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, &fakeCreator{}, nil, repo, sessions)

	_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPlaceListsInvalidQuantityOffenders(t *testing.T) {
	repo := newFakeRepo()
	bad := testCart()
	bad.Lines = append(bad.Lines, cart.Line{ProductID: "prod-2", Quantity: 0, ShopID: "shop-1"})
	carts := &fakeCarts{cart: bad}
	creator := &fakeCreator{}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	perr := pkgerrors.As(err)
	if perr == nil || perr.Code() != pkgerrors.CodeInvalidQuantity {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	details, ok := perr.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected offender details, got %v", perr.Details())
	}
	offenders, ok := details["product_ids"].([]string)
	if !ok || len(offenders) != 1 || offenders[0] != "prod-2" {
		t.Fatalf("offenders = %v", details["product_ids"])
	}
	if len(creator.calls) != 0 {
		t.Fatal("invalid cart must not reach the vendor")
	}
}

func TestPlaceRejectsConcurrentCheckout(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	creator := &fakeCreator{release: make(chan struct{}), started: make(chan struct{}, 1)}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
		done <- err
	}()
	<-creator.started

	_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for re-entrant checkout, got %v", err)
	}

	close(creator.release)
	if err := <-done; err != nil {
		t.Fatalf("first placement failed: %v", err)
	}
}

func TestPlaceReusesTokenAcrossRetries(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	creator := &fakeCreator{err: pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	if _, err := svc.Place(context.Background(), sessions.current, PlaceRequest{}); err == nil {
		t.Fatal("expected vendor failure")
	}
	creator.err = nil
	if _, err := svc.Place(context.Background(), sessions.current, PlaceRequest{}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(creator.calls) != 2 {
		t.Fatalf("expected two vendor calls, got %d", len(creator.calls))
	}
	if creator.calls[0].TransactionID != creator.calls[1].TransactionID {
		t.Fatal("retry must reuse the transaction token")
	}

	// A fresh checkout after success mints a new token.
	carts.cart = testCart()
	if _, err := svc.Place(context.Background(), sessions.current, PlaceRequest{}); err != nil {
		t.Fatalf("third placement failed: %v", err)
	}
	if creator.calls[2].TransactionID == creator.calls[1].TransactionID {
		t.Fatal("new checkout must not reuse a settled token")
	}
}

func TestPlaceReturnsJournaledOrderOnReplay(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	creator := &fakeCreator{err: pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	if _, err := svc.Place(context.Background(), sessions.current, PlaceRequest{}); err == nil {
		t.Fatal("expected vendor failure")
	}
	token := creator.calls[0].TransactionID

	// The vendor actually accepted it; the journal row shows up before
	// the retry, which must then short circuit.
	journaled := &models.OrderRecord{
		ID:            uuid.New(),
		RemoteOrderID: "remote-9",
		TransactionID: token,
		DeviceID:      "dev-1",
		ShopID:        "shop-1",
		OrderType:     enums.OrderTypeBar,
		Status:        enums.FulfillmentStatusProposed,
		Total:         "25.00",
	}
	if err := repo.Save(context.Background(), journaled); err != nil {
		t.Fatalf("Save: %v", err)
	}

	order, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	if err != nil {
		t.Fatalf("replay placement: %v", err)
	}
	if order.RemoteOrderID != "remote-9" {
		t.Fatalf("expected journaled order, got %q", order.RemoteOrderID)
	}
	if len(creator.calls) != 1 {
		t.Fatal("replay must not resubmit to the vendor")
	}
}

func TestPlaceRequiresSuccessfulPayment(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	creator := &fakeCreator{}
	payments := &fakePayments{confirmation: payment.Confirmation{Success: false}}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, carts, creator, payments, repo, sessions)

	_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{PaymentID: "pay-1"})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if payments.calls != 1 {
		t.Fatal("expected one payment confirmation")
	}
	if len(creator.calls) != 0 {
		t.Fatal("unpaid order must not reach the vendor")
	}
}

func TestPlaceDiscardsResultAfterIdentityTransition(t *testing.T) {
	repo := newFakeRepo()
	carts := &fakeCarts{cart: testCart()}
	sessions := &fakeSessions{current: barSession()}
	creator := &fakeCreator{}
	creator.onCreate = func() {
		// Login races the placement.
		next := sessions.current
		next.UserID = "user-9"
		next.IsAuthenticated = true
		next.Epoch++
		sessions.current = next
	}
	svc := newTestOrderService(t, carts, creator, nil, repo, sessions)

	_, err := svc.Place(context.Background(), sessions.current, PlaceRequest{})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected stale result discarded, got %v", err)
	}
	if len(repo.records) != 0 {
		t.Fatal("stale placement must not be journaled")
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	repo := newFakeRepo()
	record := &models.OrderRecord{
		ID:            uuid.New(),
		RemoteOrderID: "remote-1",
		TransactionID: "tx-1",
		DeviceID:      "other-device",
		ShopID:        "shop-1",
		OrderType:     enums.OrderTypeBar,
		Status:        enums.FulfillmentStatusReserved,
		Total:         "10.00",
	}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, &fakeCarts{cart: testCart()}, &fakeCreator{}, nil, repo, sessions)

	_, err := svc.Get(context.Background(), sessions.current, record.ID.String())
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}
}

func TestListOngoingSkipsTerminalOrders(t *testing.T) {
	repo := newFakeRepo()
	active := &models.OrderRecord{
		ID: uuid.New(), RemoteOrderID: "r1", TransactionID: "t1",
		DeviceID: "dev-1", ShopID: "shop-1", OrderType: enums.OrderTypeBar,
		Status: enums.FulfillmentStatusReserved, Total: "10.00",
	}
	doneOrder := &models.OrderRecord{
		ID: uuid.New(), RemoteOrderID: "r2", TransactionID: "t2",
		DeviceID: "dev-1", ShopID: "shop-1", OrderType: enums.OrderTypeBar,
		Status: enums.FulfillmentStatusCompleted, Total: "5.00",
	}
	for _, record := range []*models.OrderRecord{active, doneOrder} {
		if err := repo.Save(context.Background(), record); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	sessions := &fakeSessions{current: barSession()}
	svc := newTestOrderService(t, &fakeCarts{cart: testCart()}, &fakeCreator{}, nil, repo, sessions)

	orders, err := svc.ListOngoing(context.Background(), sessions.current)
	if err != nil {
		t.Fatalf("ListOngoing: %v", err)
	}
	if len(orders) != 1 || orders[0].RemoteOrderID != "r1" {
		t.Fatalf("unexpected ongoing orders: %+v", orders)
	}
}
