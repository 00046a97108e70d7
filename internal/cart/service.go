// Package cart reconciles the three cart tiers into a single authoritative
// view: the local draft kept in the kv store, the temporary backend cart
// keyed by device id, and the permanent backend cart keyed by user id. All
// mutations go through the authoritative remote tier; guests additionally
// mirror the latest known snapshot into the local draft so a backend outage
// never loses their cart.
package cart

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
	"github.com/tapdine/tapdine-backend/pkg/metrics"
)

const draftKey = "cart_draft"

// LineInput is a caller-supplied line for AddLine.
type LineInput struct {
	ProductID           string
	Name                string
	UnitPrice           string
	Quantity            int
	DoubleShotCount     int
	DoubleShotUnitPrice string
	MixerName           *string
	SpecialInstructions *string
	ShopID              string
}

// Service is the cart reconciliation engine.
type Service interface {
	GetCart(ctx context.Context, sctx session.Context) (*Cart, error)
	AddLine(ctx context.Context, sctx session.Context, input LineInput) (*Cart, error)
	UpdateQuantity(ctx context.Context, sctx session.Context, lineID string, quantity int) (*Cart, error)
	RemoveLine(ctx context.Context, sctx session.Context, lineID string) (*Cart, error)
	ClearCart(ctx context.Context, sctx session.Context) (*Cart, error)
	SyncGuestCartToAccount(ctx context.Context, sctx session.Context) error
}

type remoteCarts interface {
	GetCart(ctx context.Context, key commerce.CartKey) (*commerce.RemoteCart, error)
	AddLine(ctx context.Context, key commerce.CartKey, line commerce.RemoteLine) error
	AddLines(ctx context.Context, key commerce.CartKey, lines []commerce.RemoteLine) error
	UpdateLineQuantity(ctx context.Context, key commerce.CartKey, lineID string, qty int) error
	RemoveLine(ctx context.Context, key commerce.CartKey, lineID string) error
	ClearCart(ctx context.Context, key commerce.CartKey) error
}

type sessionSource interface {
	Get(ctx context.Context) session.Context
}

type shopGuard interface {
	IsOpen(ctx context.Context, shopID string) bool
}

type service struct {
	remote   remoteCarts
	draft    kv.Store
	sessions sessionSource
	guard    shopGuard
	metrics  *metrics.EngineMetrics
	logg     *logger.Logger
}

// NewService wires the engine. The shop guard is optional; when nil, adds
// are not gated on venue availability.
func NewService(remote remoteCarts, draft kv.Store, sessions sessionSource, guard shopGuard, m *metrics.EngineMetrics, logg *logger.Logger) (Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote cart client required")
	}
	if draft == nil {
		return nil, fmt.Errorf("draft store required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		remote:   remote,
		draft:    draft,
		sessions: sessions,
		guard:    guard,
		metrics:  m,
		logg:     logg,
	}, nil
}

// tierFor resolves the authoritative tier from the session. Authenticated
// sessions own the permanent cart; guests own the temporary one. Resolution
// happens before any shop-boundary check.
func tierFor(sctx session.Context) (enums.CartTier, commerce.CartKey) {
	if sctx.IsAuthenticated && sctx.UserID != "" {
		return enums.CartTierPermanent, commerce.CartKey{DeviceID: sctx.DeviceID, UserID: sctx.UserID}
	}
	return enums.CartTierTemp, commerce.CartKey{DeviceID: sctx.DeviceID}
}

func (s *service) GetCart(ctx context.Context, sctx session.Context) (*Cart, error) {
	tier, key := tierFor(sctx)

	remote, err := s.remote.GetCart(ctx, key)
	if err != nil {
		if tier == enums.CartTierTemp {
			// Guests fall back to the last mirrored draft rather than
			// losing their cart to a backend outage. The draft was
			// written under the same identity, so the epoch check
			// still applies.
			if err := s.ensureEpoch(ctx, sctx); err != nil {
				return nil, err
			}
			s.logg.Warn(ctx, "remote cart unavailable, serving local draft")
			return &Cart{Tier: enums.CartTierLocal, Lines: s.loadDraft(ctx)}, nil
		}
		return nil, err
	}
	if err := s.ensureEpoch(ctx, sctx); err != nil {
		return nil, err
	}

	cart := &Cart{Tier: tier, Lines: linesFromRemote(remote)}
	if tier == enums.CartTierTemp {
		s.saveDraft(ctx, cart.Lines)
	}
	return cart, nil
}

func (s *service) AddLine(ctx context.Context, sctx session.Context, input LineInput) (*Cart, error) {
	line, err := lineFromInput(input)
	if err != nil {
		s.countOp("add_line", "rejected")
		return nil, err
	}
	if s.guard != nil && !s.guard.IsOpen(ctx, line.ShopID) {
		s.countOp("add_line", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shop is closed")
	}

	tier, key := tierFor(sctx)

	current, err := s.remote.GetCart(ctx, key)
	if err != nil {
		s.countOp("add_line", "failure")
		return nil, err
	}
	if existing := (&Cart{Lines: linesFromRemote(current)}).ShopID(); existing != "" && existing != line.ShopID {
		s.countOp("add_line", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeShopMismatch, "cart already holds items from another shop").
			WithDetails(map[string]string{"cart_shop_id": existing, "line_shop_id": line.ShopID})
	}

	if err := s.remote.AddLine(ctx, key, line.toRemote()); err != nil {
		s.countOp("add_line", "failure")
		return nil, err
	}
	cart, err := s.refresh(ctx, sctx, tier, key)
	if err != nil {
		s.countOp("add_line", "failure")
		return nil, err
	}
	s.countOp("add_line", "success")
	return cart, nil
}

func (s *service) UpdateQuantity(ctx context.Context, sctx session.Context, lineID string, quantity int) (*Cart, error) {
	if lineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}
	if quantity < 0 {
		s.countOp("update_quantity", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity cannot be negative").
			WithDetails(map[string]any{"line_id": lineID, "quantity": quantity})
	}
	// Zero means removal, not a zero-quantity line.
	if quantity == 0 {
		return s.RemoveLine(ctx, sctx, lineID)
	}

	tier, key := tierFor(sctx)
	if err := s.remote.UpdateLineQuantity(ctx, key, lineID, quantity); err != nil {
		s.countOp("update_quantity", "failure")
		return nil, err
	}
	cart, err := s.refresh(ctx, sctx, tier, key)
	if err != nil {
		s.countOp("update_quantity", "failure")
		return nil, err
	}
	s.countOp("update_quantity", "success")
	return cart, nil
}

func (s *service) RemoveLine(ctx context.Context, sctx session.Context, lineID string) (*Cart, error) {
	if lineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}

	tier, key := tierFor(sctx)
	if err := s.remote.RemoveLine(ctx, key, lineID); err != nil {
		s.countOp("remove_line", "failure")
		return nil, err
	}
	cart, err := s.refresh(ctx, sctx, tier, key)
	if err != nil {
		s.countOp("remove_line", "failure")
		return nil, err
	}
	s.countOp("remove_line", "success")
	return cart, nil
}

// ClearCart empties the cart. The local draft is cleared unconditionally;
// the remote clear is best effort and a failure there is logged, not
// surfaced, so the caller always ends up with an empty cart.
func (s *service) ClearCart(ctx context.Context, sctx session.Context) (*Cart, error) {
	tier, key := tierFor(sctx)

	s.clearDraft(ctx)
	if err := s.remote.ClearCart(ctx, key); err != nil {
		s.logg.Error(ctx, "remote cart clear failed", err)
		s.countOp("clear_cart", "partial")
		return &Cart{Tier: tier}, nil
	}
	s.countOp("clear_cart", "success")
	return &Cart{Tier: tier}, nil
}

// SyncGuestCartToAccount merges the guest cart into the permanent tier
// right after login. The source tiers are cleared only once the merge has
// succeeded, so a failed sync can be retried without losing lines, and a
// second call after success is a no-op.
func (s *service) SyncGuestCartToAccount(ctx context.Context, sctx session.Context) error {
	if !sctx.IsAuthenticated || sctx.UserID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "guest cart sync requires an authenticated session")
	}

	tempKey := commerce.CartKey{DeviceID: sctx.DeviceID}
	var lines []Line
	remote, err := s.remote.GetCart(ctx, tempKey)
	if err != nil {
		s.logg.Warn(ctx, "temporary cart unreachable, syncing from local draft")
		lines = s.loadDraft(ctx)
	} else {
		lines = linesFromRemote(remote)
	}
	if len(lines) == 0 {
		return nil
	}

	permKey := commerce.CartKey{DeviceID: sctx.DeviceID, UserID: sctx.UserID}
	existing, err := s.remote.GetCart(ctx, permKey)
	if err != nil {
		s.countOp("sync_guest_cart", "failure")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not read account cart before merge")
	}

	// A prior sync may have merged these lines and then failed to clear
	// the source. Skip anything already in the permanent tier so a repeat
	// call never duplicates.
	merged := make(map[string]bool)
	for _, line := range linesFromRemote(existing) {
		merged[line.mergeKey()] = true
	}
	batch := make([]commerce.RemoteLine, 0, len(lines))
	for _, line := range lines {
		if merged[line.mergeKey()] {
			continue
		}
		batch = append(batch, line.toRemote())
	}
	if len(batch) > 0 {
		if err := s.remote.AddLines(ctx, permKey, batch); err != nil {
			s.countOp("sync_guest_cart", "failure")
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not merge guest cart into account")
		}
	}
	if err := s.ensureEpoch(ctx, sctx); err != nil {
		return err
	}

	var cleanup error
	if err := s.remote.ClearCart(ctx, tempKey); err != nil {
		cleanup = multierr.Append(cleanup, err)
	}
	if err := s.draft.Delete(ctx, draftKey); err != nil {
		cleanup = multierr.Append(cleanup, err)
	}
	if cleanup != nil {
		// The merge itself succeeded; the duplicate check above keeps
		// a dangling source cart from re-merging, and the next sync
		// retries the clear.
		s.logg.Error(ctx, "guest cart source cleanup incomplete", cleanup)
	}
	s.countOp("sync_guest_cart", "success")
	return nil
}

// refresh re-reads the authoritative tier after a mutation and, for guests,
// mirrors the snapshot into the local draft.
func (s *service) refresh(ctx context.Context, sctx session.Context, tier enums.CartTier, key commerce.CartKey) (*Cart, error) {
	remote, err := s.remote.GetCart(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEpoch(ctx, sctx); err != nil {
		return nil, err
	}
	cart := &Cart{Tier: tier, Lines: linesFromRemote(remote)}
	if tier == enums.CartTierTemp {
		s.saveDraft(ctx, cart.Lines)
	}
	return cart, nil
}

// ensureEpoch discards results of work that started under a previous
// identity. Login and logout bump the session epoch, so a response that
// raced an identity transition must not be applied.
func (s *service) ensureEpoch(ctx context.Context, sctx session.Context) error {
	if current := s.sessions.Get(ctx).Epoch; current != sctx.Epoch {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session identity changed while the request was in flight")
	}
	return nil
}

func (s *service) loadDraft(ctx context.Context) []Line {
	raw, ok := s.draft.Get(ctx, draftKey)
	if !ok {
		return nil
	}
	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		s.logg.Warn(ctx, "local cart draft unreadable, discarding")
		return nil
	}
	return lines
}

func (s *service) saveDraft(ctx context.Context, lines []Line) {
	raw, err := json.Marshal(lines)
	if err != nil {
		return
	}
	if err := s.draft.Set(ctx, draftKey, string(raw)); err != nil {
		s.logg.Warn(ctx, "local cart draft not persisted")
	}
}

func (s *service) clearDraft(ctx context.Context) {
	if err := s.draft.Delete(ctx, draftKey); err != nil {
		s.logg.Warn(ctx, "local cart draft not deleted")
	}
}

func (s *service) countOp(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.IncCartOp(operation, outcome)
	}
}
