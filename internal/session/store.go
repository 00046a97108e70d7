// Package session holds the single shared mutable resource of the engine:
// the device/user/shop context every other component reads. Writes are
// confined to user-initiated transition points; each identity transition
// bumps an epoch so responses of requests started under an old identity can
// be detected and discarded.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tapdine/tapdine-backend/internal/identity"
	"github.com/tapdine/tapdine-backend/pkg/config"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

const storageKey = "session_context"

// Context is the session snapshot read by all other components.
type Context struct {
	DeviceID        string          `json:"device_id"`
	UserID          string          `json:"user_id,omitempty"`
	ShopID          string          `json:"shop_id,omitempty"`
	TableNumber     string          `json:"table_number,omitempty"`
	OrderType       enums.OrderType `json:"order_type"`
	IsAuthenticated bool            `json:"is_authenticated"`
	// Epoch increments on every identity transition (login, logout,
	// full clear). In-flight work compares it to detect staleness.
	Epoch uint64 `json:"epoch"`
}

// Store owns the persisted session context.
type Store struct {
	mu      sync.RWMutex
	kv      kv.Store
	ident   *identity.Provider
	jwt     config.JWTConfig
	logg    *logger.Logger
	current Context
}

// NewStore loads the persisted session (if any) and guarantees the device
// identity is present.
func NewStore(ctx context.Context, store kv.Store, ident *identity.Provider, jwtCfg config.JWTConfig, logg *logger.Logger) (*Store, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if ident == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}

	s := &Store{kv: store, ident: ident, jwt: jwtCfg, logg: logg}

	if raw, ok := store.Get(ctx, storageKey); ok {
		if err := json.Unmarshal([]byte(raw), &s.current); err != nil {
			logg.Warn(ctx, "persisted session unreadable, starting fresh")
			s.current = Context{}
		}
	}
	if s.current.DeviceID == "" {
		s.current.DeviceID = ident.GetOrCreate(ctx)
		s.persist(ctx)
	}
	if s.current.OrderType == "" {
		s.current.OrderType = enums.OrderTypeBar
	}
	return s, nil
}

// Get returns the current session context.
func (s *Store) Get(_ context.Context) Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetShopTable enters a venue flow. An empty table number selects the bar
// flow and clears any table context; a non-empty one selects the table flow.
// The two flows are mutually exclusive.
func (s *Store) SetShopTable(ctx context.Context, shopID, tableNumber string) (Context, error) {
	if shopID == "" {
		return Context{}, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.ShopID = shopID
	if tableNumber == "" {
		s.current.TableNumber = ""
		s.current.OrderType = enums.OrderTypeBar
	} else {
		s.current.TableNumber = tableNumber
		s.current.OrderType = enums.OrderTypeTable
	}
	s.persist(ctx)
	return s.current, nil
}

// SetAuth performs the guest-to-authenticated transition. The member token
// is validated and the user id extracted from its subject.
func (s *Store) SetAuth(ctx context.Context, token string) (Context, error) {
	userID, err := s.parseMemberToken(token)
	if err != nil {
		return Context{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.UserID = userID
	s.current.IsAuthenticated = true
	s.current.Epoch++
	s.persist(ctx)
	return s.current, nil
}

// ClearAuth logs the user out. The device identity is preserved so the
// guest cart key stays stable.
func (s *Store) ClearAuth(ctx context.Context) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.UserID = ""
	s.current.IsAuthenticated = false
	s.current.Epoch++
	s.persist(ctx)
	return s.current
}

// ClearAll resets everything except the device identity.
func (s *Store) ClearAll(ctx context.Context) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	device := s.current.DeviceID
	epoch := s.current.Epoch + 1
	s.current = Context{
		DeviceID:  device,
		OrderType: enums.OrderTypeBar,
		Epoch:     epoch,
	}
	s.persist(ctx)
	return s.current
}

// persist writes the snapshot through the storage adapter. Callers hold the
// write lock. A failed write keeps the in-memory context authoritative.
func (s *Store) persist(ctx context.Context) {
	encoded, err := json.Marshal(s.current)
	if err != nil {
		s.logg.Error(ctx, "session encode failed", err)
		return
	}
	if err := s.kv.Set(ctx, storageKey, string(encoded)); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "session not persisted, keeping in-memory state")
	}
}
