package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapdine/tapdine-backend/api/responses"
	"github.com/tapdine/tapdine-backend/internal/availability"
	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type shopCatalog interface {
	GetShop(ctx context.Context, shopID string) (*commerce.Shop, error)
	GetMenu(ctx context.Context, shopID string) ([]commerce.MenuItem, error)
}

type availabilityService interface {
	Watch(ctx context.Context, shopID string) error
	State(shopID string) (enums.ShopState, bool)
	Subscribe() (<-chan availability.Event, func())
}

type shopView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type menuItemView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	Price           string `json:"price"`
	DoubleShotPrice string `json:"double_shot_price"`
	MixersAllowed   bool   `json:"mixers_allowed"`
}

// ShopGet returns the normalized venue record.
func ShopGet(catalog shopCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commerce client unavailable"))
			return
		}

		shop, err := catalog.GetShop(r.Context(), chi.URLParam(r, "shopID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		state := enums.ShopStateClosed
		if shop.Open {
			state = enums.ShopStateOpen
		}
		responses.WriteSuccess(w, shopView{ID: shop.ID, Name: shop.Name, State: state.String()})
	}
}

// ShopMenu returns the shop's orderable items.
func ShopMenu(catalog shopCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commerce client unavailable"))
			return
		}

		items, err := catalog.GetMenu(r.Context(), chi.URLParam(r, "shopID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]menuItemView, 0, len(items))
		for _, item := range items {
			views = append(views, menuItemView{
				ID:              item.ID,
				Name:            item.Name,
				Category:        item.Category,
				Price:           item.Price.StringFixed(2),
				DoubleShotPrice: item.DoubleShotPrice.StringFixed(2),
				MixersAllowed:   item.MixersAllowed,
			})
		}
		responses.WriteSuccess(w, views)
	}
}

type shopStateEvent struct {
	ShopID string `json:"shop_id"`
	State  string `json:"state"`
}

// ShopAvailabilityEvents streams open/closed transitions for one shop over
// SSE. The current state, when known, is sent first. The availability watch
// itself runs on the application context so it survives this request.
func ShopAvailabilityEvents(guard availabilityService, appCtx context.Context, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guard == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "availability guard unavailable"))
			return
		}
		shopID := chi.URLParam(r, "shopID")

		if err := guard.Watch(appCtx, shopID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, cancel := guard.Subscribe()
		defer cancel()

		stream, err := newSSEWriter(w)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "streaming unsupported"))
			return
		}

		if state, known := guard.State(shopID); known {
			if err := stream.send("state", shopStateEvent{ShopID: shopID, State: state.String()}); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.ShopID != shopID {
					continue
				}
				if err := stream.send("state", shopStateEvent{ShopID: event.ShopID, State: event.Current.String()}); err != nil {
					return
				}
			}
		}
	}
}
