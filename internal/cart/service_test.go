package cart

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type fakeRemote struct {
	carts      map[string][]commerce.RemoteLine
	nextLineID int

	failGet      bool
	failMutation bool
	failClear    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{carts: map[string][]commerce.RemoteLine{}}
}

func cartKeyOf(key commerce.CartKey) string {
	if key.UserID != "" {
		return "user:" + key.UserID
	}
	return "device:" + key.DeviceID
}

func (f *fakeRemote) GetCart(_ context.Context, key commerce.CartKey) (*commerce.RemoteCart, error) {
	if f.failGet {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	return &commerce.RemoteCart{Lines: append([]commerce.RemoteLine(nil), f.carts[cartKeyOf(key)]...)}, nil
}

func (f *fakeRemote) AddLine(_ context.Context, key commerce.CartKey, line commerce.RemoteLine) error {
	if f.failMutation {
		return pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	f.nextLineID++
	line.LineID = fmt.Sprintf("line-%d", f.nextLineID)
	f.carts[cartKeyOf(key)] = append(f.carts[cartKeyOf(key)], line)
	return nil
}

func (f *fakeRemote) AddLines(ctx context.Context, key commerce.CartKey, lines []commerce.RemoteLine) error {
	if f.failMutation {
		return pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	for _, line := range lines {
		if err := f.AddLine(ctx, key, line); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRemote) UpdateLineQuantity(_ context.Context, key commerce.CartKey, lineID string, qty int) error {
	if f.failMutation {
		return pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	for i, line := range f.carts[cartKeyOf(key)] {
		if line.LineID == lineID {
			f.carts[cartKeyOf(key)][i].Quantity = qty
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "line not found")
}

func (f *fakeRemote) RemoveLine(_ context.Context, key commerce.CartKey, lineID string) error {
	if f.failMutation {
		return pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	lines := f.carts[cartKeyOf(key)]
	for i, line := range lines {
		if line.LineID == lineID {
			f.carts[cartKeyOf(key)] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "line not found")
}

func (f *fakeRemote) ClearCart(_ context.Context, key commerce.CartKey) error {
	if f.failClear {
		return pkgerrors.New(pkgerrors.CodeDependency, "backend unreachable")
	}
	delete(f.carts, cartKeyOf(key))
	return nil
}

type fakeSessions struct {
	current session.Context
}

func (f *fakeSessions) Get(context.Context) session.Context {
	return f.current
}

type fakeGuard struct {
	open bool
}

func (f *fakeGuard) IsOpen(context.Context, string) bool {
	return f.open
}

func guestSession() session.Context {
	return session.Context{DeviceID: "dev-1", ShopID: "shop-1", OrderType: enums.OrderTypeBar}
}

func memberSession() session.Context {
	return session.Context{
		DeviceID:        "dev-1",
		UserID:          "user-9",
		ShopID:          "shop-1",
		OrderType:       enums.OrderTypeBar,
		IsAuthenticated: true,
		Epoch:           1,
	}
}

func newTestService(t *testing.T, remote *fakeRemote, sessions *fakeSessions) (Service, kv.Store) {
	t.Helper()
	draft := kv.NewMemoryStore()
	svc, err := NewService(remote, draft, sessions, nil, nil, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, draft
}

func addInput(productID, shopID string, qty int) LineInput {
	return LineInput{
		ProductID: productID,
		Name:      "Old Fashioned",
		UnitPrice: "10.00",
		Quantity:  qty,
		ShopID:    shopID,
	}
}

func TestCartTotalIncludesDoubleShots(t *testing.T) {
	cart := Cart{Lines: []Line{
		{
			UnitPrice:           decimal.RequireFromString("10.00"),
			Quantity:            2,
			DoubleShotCount:     1,
			DoubleShotUnitPrice: decimal.RequireFromString("2.50"),
		},
		{
			UnitPrice: decimal.RequireFromString("10.00"),
			Quantity:  1,
		},
	}}

	if got := cart.Total(); !got.Equal(decimal.RequireFromString("35.00")) {
		t.Fatalf("total = %s, want 35.00", got)
	}
}

func TestAddLineGuestMirrorsDraft(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, draft := newTestService(t, remote, sessions)

	cart, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 2))
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if cart.Tier != enums.CartTierTemp {
		t.Fatalf("tier = %s, want temp", cart.Tier)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected cart lines: %+v", cart.Lines)
	}
	if _, ok := draft.Get(context.Background(), draftKey); !ok {
		t.Fatal("expected guest mutation to mirror the local draft")
	}
}

func TestAddLineUsesPermanentTierWhenAuthenticated(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: memberSession()}
	svc, _ := newTestService(t, remote, sessions)

	cart, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 1))
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if cart.Tier != enums.CartTierPermanent {
		t.Fatalf("tier = %s, want permanent", cart.Tier)
	}
	if len(remote.carts["user:user-9"]) != 1 {
		t.Fatal("expected line in the permanent cart")
	}
	if len(remote.carts["device:dev-1"]) != 0 {
		t.Fatal("temporary cart must stay untouched for members")
	}
}

func TestAddLineRejectsOtherShop(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 1)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	_, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-2", "shop-2", 1))
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeShopMismatch {
		t.Fatalf("expected shop mismatch, got %v", err)
	}
}

func TestAddLineRejectsNonPositiveQuantity(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	_, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 0))
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInvalidQuantity {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if len(remote.carts) != 0 {
		t.Fatal("rejected line must not reach the backend")
	}
}

func TestAddLineBlockedWhileShopClosed(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	draft := kv.NewMemoryStore()
	svc, err := NewService(remote, draft, sessions, &fakeGuard{open: false}, nil, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 1))
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict while closed, got %v", err)
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	cart, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 2))
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	cart, err = svc.UpdateQuantity(context.Background(), sessions.current, cart.Lines[0].LineID, 0)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart, got %+v", cart.Lines)
	}
}

func TestUpdateQuantityNegativeRejected(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	_, err := svc.UpdateQuantity(context.Background(), sessions.current, "line-1", -1)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInvalidQuantity {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
}

func TestClearCartAlwaysClearsDraft(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, draft := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 1)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	remote.failClear = true

	cart, err := svc.ClearCart(context.Background(), sessions.current)
	if err != nil {
		t.Fatalf("ClearCart must not surface remote failures, got %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart, got %+v", cart.Lines)
	}
	if _, ok := draft.Get(context.Background(), draftKey); ok {
		t.Fatal("local draft must be cleared even when the backend is down")
	}
}

func TestGetCartGuestFallsBackToDraft(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 3)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	remote.failGet = true

	cart, err := svc.GetCart(context.Background(), sessions.current)
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.Tier != enums.CartTierLocal {
		t.Fatalf("tier = %s, want local fallback", cart.Tier)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 3 {
		t.Fatalf("draft fallback lost lines: %+v", cart.Lines)
	}
}

func TestSyncGuestCartMergesAndClearsSource(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, draft := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 2)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	sessions.current = memberSession()
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err != nil {
		t.Fatalf("SyncGuestCartToAccount: %v", err)
	}
	if len(remote.carts["user:user-9"]) != 1 {
		t.Fatal("expected guest line merged into permanent cart")
	}
	if len(remote.carts["device:dev-1"]) != 0 {
		t.Fatal("temporary cart must be cleared after a successful merge")
	}
	if _, ok := draft.Get(context.Background(), draftKey); ok {
		t.Fatal("local draft must be cleared after a successful merge")
	}

	// Second call finds nothing to merge.
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err != nil {
		t.Fatalf("repeat sync must be a no-op, got %v", err)
	}
	if len(remote.carts["user:user-9"]) != 1 {
		t.Fatal("repeat sync must not duplicate merged lines")
	}
}

func TestSyncGuestCartRepeatAfterClearFailure(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 2)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	sessions.current = memberSession()
	remote.failClear = true
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err != nil {
		t.Fatalf("SyncGuestCartToAccount: %v", err)
	}
	if len(remote.carts["device:dev-1"]) != 1 {
		t.Fatal("expected temporary cart to survive the failed clear")
	}

	// The source cart is still dangling; a repeat call must not re-merge
	// its lines.
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err != nil {
		t.Fatalf("repeat sync: %v", err)
	}
	if got := len(remote.carts["user:user-9"]); got != 1 {
		t.Fatalf("permanent cart holds %d lines after two syncs with no intervening mutation, want 1", got)
	}

	// Once the backend recovers, the next call clears the source.
	remote.failClear = false
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err != nil {
		t.Fatalf("recovered sync: %v", err)
	}
	if len(remote.carts["device:dev-1"]) != 0 {
		t.Fatal("expected temporary cart cleared after the backend recovered")
	}
	if got := len(remote.carts["user:user-9"]); got != 1 {
		t.Fatalf("permanent cart holds %d lines after recovery, want 1", got)
	}
}

func TestSyncGuestCartPreservesSourceOnMergeFailure(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 2)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	sessions.current = memberSession()
	remote.failMutation = true
	if err := svc.SyncGuestCartToAccount(context.Background(), sessions.current); err == nil {
		t.Fatal("expected merge failure to surface")
	}
	if len(remote.carts["device:dev-1"]) != 1 {
		t.Fatal("temporary cart must survive a failed merge")
	}
}

func TestSyncGuestCartRequiresAuthentication(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	err := svc.SyncGuestCartToAccount(context.Background(), sessions.current)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMutationDiscardedAfterIdentityTransition(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	stale := sessions.current
	// The user logs in while the add is in flight.
	sessions.current = memberSession()

	_, err := svc.AddLine(context.Background(), stale, addInput("prod-1", "shop-1", 1))
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected stale result to be discarded, got %v", err)
	}
}

func TestDraftFallbackDiscardedAfterIdentityTransition(t *testing.T) {
	remote := newFakeRemote()
	sessions := &fakeSessions{current: guestSession()}
	svc, _ := newTestService(t, remote, sessions)

	if _, err := svc.AddLine(context.Background(), sessions.current, addInput("prod-1", "shop-1", 1)); err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	stale := sessions.current
	// The user logs in while the backend is unreachable.
	sessions.current = memberSession()
	remote.failGet = true

	_, err := svc.GetCart(context.Background(), stale)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected stale draft read to be discarded, got %v", err)
	}
}

func TestGetCartAuthenticatedSurfacesBackendFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	sessions := &fakeSessions{current: memberSession()}
	svc, _ := newTestService(t, remote, sessions)

	_, err := svc.GetCart(context.Background(), sessions.current)
	if err == nil || !errors.As(err, new(*pkgerrors.Error)) {
		t.Fatalf("expected backend failure to surface, got %v", err)
	}
}
