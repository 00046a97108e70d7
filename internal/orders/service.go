// Package orders owns the checkout workflow: precondition checks, payment
// confirmation, idempotent submission to the commerce vendor and the local
// order journal.
package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

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

// PlaceRequest carries the checkout input.
type PlaceRequest struct {
	// PaymentID references the client-side Square payment to confirm
	// before the order is submitted. Empty skips confirmation, which is
	// only valid in environments without a payment processor.
	PaymentID string
}

// Order is the caller-facing view of a journaled order.
type Order struct {
	ID            uuid.UUID               `json:"id"`
	RemoteOrderID string                  `json:"remote_order_id"`
	Status        enums.FulfillmentStatus `json:"status"`
	ShopID        string                  `json:"shop_id"`
	TableNumber   string                  `json:"table_number,omitempty"`
	OrderType     enums.OrderType         `json:"order_type"`
	Total         decimal.Decimal         `json:"total"`
	Lines         []cart.Line             `json:"lines"`
	PlacedAt      time.Time               `json:"placed_at"`
}

// Service is the order placement workflow.
type Service interface {
	Place(ctx context.Context, sctx session.Context, req PlaceRequest) (*Order, error)
	ListOngoing(ctx context.Context, sctx session.Context) ([]Order, error)
	Get(ctx context.Context, sctx session.Context, orderID string) (*Order, error)
}

type cartEngine interface {
	GetCart(ctx context.Context, sctx session.Context) (*cart.Cart, error)
	ClearCart(ctx context.Context, sctx session.Context) (*cart.Cart, error)
}

type orderCreator interface {
	CreateOrder(ctx context.Context, req commerce.CreateOrderRequest) (*commerce.CreateOrderResponse, error)
}

type paymentConfirmer interface {
	Confirm(ctx context.Context, paymentID string) (payment.Confirmation, error)
}

type sessionSource interface {
	Get(ctx context.Context) session.Context
}

type service struct {
	carts    cartEngine
	creator  orderCreator
	payments paymentConfirmer
	repo     Repository
	sessions sessionSource
	logg     *logger.Logger

	mu sync.Mutex
	// inFlight blocks re-entrant checkout per device; pendingTokens keeps
	// the transaction token of a failed attempt so a retry reuses it and
	// the vendor can dedupe.
	inFlight      map[string]struct{}
	pendingTokens map[string]string
}

// NewService wires the checkout workflow. The payment confirmer is optional.
func NewService(carts cartEngine, creator orderCreator, payments paymentConfirmer, repo Repository, sessions sessionSource, logg *logger.Logger) (Service, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart engine required")
	}
	if creator == nil {
		return nil, fmt.Errorf("commerce client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		carts:         carts,
		creator:       creator,
		payments:      payments,
		repo:          repo,
		sessions:      sessions,
		logg:          logg,
		inFlight:      map[string]struct{}{},
		pendingTokens: map[string]string{},
	}, nil
}

func (s *service) Place(ctx context.Context, sctx session.Context, req PlaceRequest) (*Order, error) {
	if sctx.ShopID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no shop selected")
	}
	release, err := s.acquire(sctx.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.carts.GetCart(ctx, sctx)
	if err != nil {
		return nil, err
	}
	if current.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if offenders := invalidQuantityLines(current.Lines); len(offenders) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "cart holds lines with invalid quantities").
			WithDetails(map[string]any{"product_ids": offenders})
	}

	token := s.transactionToken(sctx.DeviceID)

	// A retry after a crash between vendor submission and acknowledgment
	// lands here with the token already journaled.
	if existing, err := s.repo.GetByTransactionID(ctx, token); err == nil {
		s.clearToken(sctx.DeviceID)
		if _, err := s.carts.ClearCart(ctx, sctx); err != nil {
			s.logg.Error(ctx, "cart clear after replayed checkout failed", err)
		}
		return recordToOrder(existing), nil
	}

	if s.payments != nil && req.PaymentID != "" {
		confirmation, err := s.payments.Confirm(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		if !confirmation.Success {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment was not completed")
		}
	}

	total := current.Total()
	resp, err := s.creator.CreateOrder(ctx, commerce.CreateOrderRequest{
		TransactionID: token,
		DeviceID:      sctx.DeviceID,
		UserID:        sctx.UserID,
		ShopID:        sctx.ShopID,
		TableNumber:   sctx.TableNumber,
		OrderTypeCode: sctx.OrderType.RemoteCode(),
		Total:         total,
		Lines:         remoteLines(current.Lines),
	})
	if err != nil {
		// Token survives so the retry reuses it.
		return nil, err
	}
	if latest := s.sessions.Get(ctx).Epoch; latest != sctx.Epoch {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session identity changed while the order was in flight")
	}

	record := buildRecord(sctx, token, total, resp, current.Lines)
	if err := s.repo.Save(ctx, record); err != nil {
		// The vendor accepted the order; losing the journal row costs us
		// restart tracking, not the order itself.
		s.logg.Error(ctx, "order journal write failed", err)
	}

	s.clearToken(sctx.DeviceID)
	if _, err := s.carts.ClearCart(ctx, sctx); err != nil {
		s.logg.Error(ctx, "cart clear after checkout failed", err)
	}

	s.logg.Info(s.logg.WithOrderID(ctx, resp.OrderID), "order placed")
	return recordToOrder(record), nil
}

func (s *service) ListOngoing(ctx context.Context, sctx session.Context) ([]Order, error) {
	records, err := s.repo.ListOngoing(ctx, sctx.DeviceID, sctx.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(records))
	for i := range records {
		out = append(out, *recordToOrder(&records[i]))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, sctx session.Context, orderID string) (*Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownedBy(record, sctx) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return recordToOrder(record), nil
}

func (s *service) acquire(deviceID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[deviceID]; busy {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an order placement is already in progress")
	}
	s.inFlight[deviceID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, deviceID)
		s.mu.Unlock()
	}, nil
}

// transactionToken returns the pending token of a failed prior attempt, or
// mints a new one. Tokens are millisecond timestamps with a random suffix.
func (s *service) transactionToken(deviceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.pendingTokens[deviceID]; ok {
		return token
	}
	token := newTransactionToken()
	s.pendingTokens[deviceID] = token
	return token
}

func (s *service) clearToken(deviceID string) {
	s.mu.Lock()
	delete(s.pendingTokens, deviceID)
	s.mu.Unlock()
}

func newTransactionToken() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}

func invalidQuantityLines(lines []cart.Line) []string {
	var offenders []string
	for _, line := range lines {
		if line.Quantity <= 0 {
			offenders = append(offenders, line.ProductID)
		}
	}
	return offenders
}

func remoteLines(lines []cart.Line) []commerce.RemoteLine {
	out := make([]commerce.RemoteLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, commerce.RemoteLine{
			LineID:              line.LineID,
			ProductID:           line.ProductID,
			Name:                line.Name,
			UnitPrice:           line.UnitPrice,
			Quantity:            line.Quantity,
			DoubleShotCount:     line.DoubleShotCount,
			DoubleShotUnitPrice: line.DoubleShotUnitPrice,
			MixerName:           line.MixerName,
			SpecialInstructions: line.SpecialInstructions,
			ShopID:              line.ShopID,
		})
	}
	return out
}

func buildRecord(sctx session.Context, token string, total decimal.Decimal, resp *commerce.CreateOrderResponse, lines []cart.Line) *models.OrderRecord {
	record := &models.OrderRecord{
		ID:            uuid.New(),
		RemoteOrderID: resp.OrderID,
		TransactionID: token,
		DeviceID:      sctx.DeviceID,
		ShopID:        sctx.ShopID,
		OrderType:     sctx.OrderType,
		Status:        enums.FulfillmentStatusProposed,
		Total:         total.StringFixed(2),
		PlacedAt:      time.Now().UTC(),
	}
	if resp.RemoteStatusID != "" {
		statusID := resp.RemoteStatusID
		record.RemoteStatusID = &statusID
	}
	if sctx.UserID != "" {
		userID := sctx.UserID
		record.UserID = &userID
	}
	if sctx.TableNumber != "" {
		table := sctx.TableNumber
		record.TableNumber = &table
	}
	for _, line := range lines {
		record.Lines = append(record.Lines, models.OrderLine{
			ID:                  uuid.New(),
			OrderID:             record.ID,
			ProductID:           line.ProductID,
			Name:                line.Name,
			UnitPrice:           line.UnitPrice.StringFixed(2),
			Quantity:            line.Quantity,
			DoubleShotCount:     line.DoubleShotCount,
			DoubleShotUnitPrice: line.DoubleShotUnitPrice.StringFixed(2),
			MixerName:           line.MixerName,
			SpecialInstructions: line.SpecialInstructions,
			ShopID:              line.ShopID,
		})
	}
	return record
}

func recordToOrder(record *models.OrderRecord) *Order {
	total, err := decimal.NewFromString(record.Total)
	if err != nil {
		total = decimal.Zero
	}
	order := &Order{
		ID:            record.ID,
		RemoteOrderID: record.RemoteOrderID,
		Status:        record.Status,
		ShopID:        record.ShopID,
		OrderType:     record.OrderType,
		Total:         total,
		PlacedAt:      record.PlacedAt,
	}
	if record.TableNumber != nil {
		order.TableNumber = *record.TableNumber
	}
	for _, line := range record.Lines {
		unit, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			unit = decimal.Zero
		}
		double, err := decimal.NewFromString(line.DoubleShotUnitPrice)
		if err != nil {
			double = decimal.Zero
		}
		order.Lines = append(order.Lines, cart.Line{
			LineID:              line.ID.String(),
			ProductID:           line.ProductID,
			Name:                line.Name,
			UnitPrice:           unit,
			Quantity:            line.Quantity,
			DoubleShotCount:     line.DoubleShotCount,
			DoubleShotUnitPrice: double,
			MixerName:           line.MixerName,
			SpecialInstructions: line.SpecialInstructions,
			ShopID:              line.ShopID,
		})
	}
	return order
}

func ownedBy(record *models.OrderRecord, sctx session.Context) bool {
	if record.DeviceID == sctx.DeviceID {
		return true
	}
	if record.UserID != nil && sctx.UserID != "" && *record.UserID == sctx.UserID {
		return true
	}
	return false
}
