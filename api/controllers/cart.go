package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tapdine/tapdine-backend/api/responses"
	"github.com/tapdine/tapdine-backend/api/validators"
	cartsvc "github.com/tapdine/tapdine-backend/internal/cart"
	"github.com/tapdine/tapdine-backend/internal/session"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type sessionReader interface {
	Get(ctx context.Context) session.Context
}

type cartView struct {
	Tier  string          `json:"tier"`
	Lines []cartsvc.Line  `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

func newCartView(c *cartsvc.Cart) cartView {
	return cartView{
		Tier:  c.Tier.String(),
		Lines: c.Lines,
		Total: c.Total(),
	}
}

// CartGet returns the authoritative cart with a freshly computed total.
func CartGet(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		cart, err := svc.GetCart(r.Context(), sessions.Get(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}

type addLineRequest struct {
	ProductID           string  `json:"product_id" validate:"required"`
	Name                string  `json:"name" validate:"required"`
	UnitPrice           string  `json:"unit_price" validate:"required"`
	Quantity            int     `json:"quantity" validate:"required,min=1"`
	DoubleShotCount     int     `json:"double_shot_count" validate:"min=0"`
	DoubleShotUnitPrice string  `json:"double_shot_unit_price"`
	MixerName           *string `json:"mixer_name"`
	SpecialInstructions *string `json:"special_instructions"`
	ShopID              string  `json:"shop_id" validate:"required"`
}

// CartAddLine adds one line to the cart.
func CartAddLine(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var body addLineRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.AddLine(r.Context(), sessions.Get(r.Context()), cartsvc.LineInput{
			ProductID:           body.ProductID,
			Name:                body.Name,
			UnitPrice:           body.UnitPrice,
			Quantity:            body.Quantity,
			DoubleShotCount:     body.DoubleShotCount,
			DoubleShotUnitPrice: body.DoubleShotUnitPrice,
			MixerName:           body.MixerName,
			SpecialInstructions: body.SpecialInstructions,
			ShopID:              body.ShopID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newCartView(cart))
	}
}

type updateLineRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// CartUpdateLine changes a line's quantity; zero removes the line.
func CartUpdateLine(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var body updateLineRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.UpdateQuantity(r.Context(), sessions.Get(r.Context()), chi.URLParam(r, "lineID"), body.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}

// CartRemoveLine removes one line from the cart.
func CartRemoveLine(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		cart, err := svc.RemoveLine(r.Context(), sessions.Get(r.Context()), chi.URLParam(r, "lineID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}

// CartClear empties the cart. Remote failures never leave the local tier
// populated, so this always succeeds from the caller's point of view.
func CartClear(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		cart, err := svc.ClearCart(r.Context(), sessions.Get(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}

// CartSync retries the guest-to-account cart merge.
func CartSync(svc cartsvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		sctx := sessions.Get(r.Context())
		if err := svc.SyncGuestCartToAccount(r.Context(), sctx); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.GetCart(r.Context(), sctx)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}
