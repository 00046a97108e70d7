package controllers

import (
	"context"
	"net/http"

	"github.com/tapdine/tapdine-backend/api/responses"
	"github.com/tapdine/tapdine-backend/api/validators"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type sessionStore interface {
	Get(ctx context.Context) session.Context
	SetShopTable(ctx context.Context, shopID, tableNumber string) (session.Context, error)
	SetAuth(ctx context.Context, token string) (session.Context, error)
	ClearAuth(ctx context.Context) session.Context
}

type guestCartSyncer interface {
	SyncGuestCartToAccount(ctx context.Context, sctx session.Context) error
}

type availabilityWatcher interface {
	Watch(ctx context.Context, shopID string) error
}

type sessionView struct {
	DeviceID        string          `json:"device_id"`
	UserID          string          `json:"user_id,omitempty"`
	ShopID          string          `json:"shop_id,omitempty"`
	TableNumber     string          `json:"table_number,omitempty"`
	OrderType       enums.OrderType `json:"order_type"`
	IsAuthenticated bool            `json:"is_authenticated"`
}

func newSessionView(sctx session.Context) sessionView {
	return sessionView{
		DeviceID:        sctx.DeviceID,
		UserID:          sctx.UserID,
		ShopID:          sctx.ShopID,
		TableNumber:     sctx.TableNumber,
		OrderType:       sctx.OrderType,
		IsAuthenticated: sctx.IsAuthenticated,
	}
}

// SessionGet returns the current device/user/shop context.
func SessionGet(store sessionStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session store unavailable"))
			return
		}
		responses.WriteSuccess(w, newSessionView(store.Get(r.Context())))
	}
}

type setShopRequest struct {
	ShopID      string `json:"shop_id" validate:"required"`
	TableNumber string `json:"table_number"`
}

// SessionSetShop enters a venue flow, bar or table, and starts watching the
// shop's availability. The watch outlives the request, so it runs on the
// application context.
func SessionSetShop(store sessionStore, watcher availabilityWatcher, appCtx context.Context, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session store unavailable"))
			return
		}

		var body setShopRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sctx, err := store.SetShopTable(r.Context(), body.ShopID, body.TableNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if watcher != nil {
			if err := watcher.Watch(appCtx, body.ShopID); err != nil {
				logg.Error(r.Context(), "availability watch not started", err)
			}
		}

		responses.WriteSuccess(w, newSessionView(sctx))
	}
}

type loginRequest struct {
	Token string `json:"token" validate:"required"`
}

type loginResponse struct {
	Session    sessionView `json:"session"`
	CartSynced bool        `json:"cart_synced"`
}

// SessionLogin performs the guest-to-member transition and merges the guest
// cart into the account. A failed merge does not fail the login; the client
// retries it through the cart sync endpoint.
func SessionLogin(store sessionStore, carts guestCartSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session store unavailable"))
			return
		}

		var body loginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sctx, err := store.SetAuth(r.Context(), body.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		synced := false
		if carts != nil {
			if err := carts.SyncGuestCartToAccount(r.Context(), sctx); err != nil {
				logg.Error(r.Context(), "guest cart sync after login failed", err)
			} else {
				synced = true
			}
		}

		responses.WriteSuccess(w, loginResponse{Session: newSessionView(sctx), CartSynced: synced})
	}
}

// SessionLogout drops the member identity and keeps the device identity.
func SessionLogout(store sessionStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session store unavailable"))
			return
		}

		responses.WriteSuccess(w, newSessionView(store.ClearAuth(r.Context())))
	}
}
