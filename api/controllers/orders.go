package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tapdine/tapdine-backend/api/responses"
	"github.com/tapdine/tapdine-backend/api/validators"
	"github.com/tapdine/tapdine-backend/internal/fulfillment"
	ordersvc "github.com/tapdine/tapdine-backend/internal/orders"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

type fulfillmentTracker interface {
	Track(ctx context.Context, orderID uuid.UUID, origin enums.NavOrigin) error
	Subscribe() (<-chan fulfillment.Event, func())
}

type placeOrderRequest struct {
	PaymentID string `json:"payment_id"`
}

// OrdersPlace submits the checkout. Fulfillment tracking starts on the
// application context immediately after placement, tagged as arriving from
// the payment-success flow.
func OrdersPlace(svc ordersvc.Service, sessions sessionReader, tracker fulfillmentTracker, appCtx context.Context, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var body placeOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Place(r.Context(), sessions.Get(r.Context()), ordersvc.PlaceRequest{PaymentID: body.PaymentID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if tracker != nil {
			if err := tracker.Track(appCtx, order.ID, enums.NavOriginPaymentSuccess); err != nil {
				logg.Error(r.Context(), "fulfillment tracking not started", err)
			}
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// OrdersList returns the caller's non-terminal orders.
func OrdersList(svc ordersvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orders, err := svc.ListOngoing(r.Context(), sessions.Get(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders)
	}
}

// OrdersGet returns one order owned by the caller.
func OrdersGet(svc ordersvc.Service, sessions sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		order, err := svc.Get(r.Context(), sessions.Get(r.Context()), chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderEvents streams fulfillment transitions for one order over SSE. The
// origin query parameter tags where the viewer arrived from; completion
// events carry it back so the UI knows where to return.
func OrderEvents(svc ordersvc.Service, sessions sessionReader, tracker fulfillmentTracker, appCtx context.Context, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || tracker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order tracking unavailable"))
			return
		}

		order, err := svc.Get(r.Context(), sessions.Get(r.Context()), chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		origin := enums.NavOriginOrdersList
		if raw := r.URL.Query().Get("origin"); raw != "" {
			parsed, err := enums.ParseNavOrigin(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid origin"))
				return
			}
			origin = parsed
		}

		if err := tracker.Track(appCtx, order.ID, origin); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, cancel := tracker.Subscribe()
		defer cancel()

		stream, err := newSSEWriter(w)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "streaming unsupported"))
			return
		}

		// Snapshot first so a reconnecting client does not miss the
		// current status.
		if err := stream.send("status", order); err != nil {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.OrderID != order.ID {
					continue
				}
				if err := stream.send(string(event.Kind), event); err != nil {
					return
				}
				if event.Current.IsTerminal() && event.Kind != fulfillment.EventStatusChanged {
					return
				}
			}
		}
	}
}
