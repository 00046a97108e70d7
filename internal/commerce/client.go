package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tapdine/tapdine-backend/pkg/config"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

// Client talks to the remote commerce vendor. Requests are form-encoded,
// responses JSON. Everything loosely typed in the vendor payloads is
// normalized here; nothing past this boundary branches on raw vendor fields.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries uint64
	logg       *logger.Logger
}

// NewClient validates the configuration and builds a vendor client.
func NewClient(cfg config.CommerceConfig, logg *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("commerce base url required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxRetries: cfg.MaxRetries,
		logg:       logg,
	}, nil
}

// envelope is the vendor's uniform response wrapper. The status flag arrives
// as "1", 1 or "ok" depending on the endpoint generation.
type envelope struct {
	Status  flexString      `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	switch strings.ToLower(e.Status.String()) {
	case "1", "ok", "success", "true":
		return true
	}
	return false
}

// GetShop returns the venue record including its open flag.
func (c *Client) GetShop(ctx context.Context, shopID string) (*Shop, error) {
	var payload struct {
		ID     flexString `json:"shop_id"`
		Name   string     `json:"shop_name"`
		IsOpen flexBool   `json:"is_open"`
	}
	if err := c.getJSON(ctx, "/shops/"+url.PathEscape(shopID), nil, &payload); err != nil {
		return nil, err
	}
	return &Shop{
		ID:   payload.ID.String(),
		Name: payload.Name,
		Open: bool(payload.IsOpen),
	}, nil
}

// GetMenu lists orderable items for the shop.
func (c *Client) GetMenu(ctx context.Context, shopID string) ([]MenuItem, error) {
	var payload []struct {
		ID              flexString  `json:"product_id"`
		Name            string      `json:"product_name"`
		Category        string      `json:"category"`
		Price           flexDecimal `json:"price"`
		DoubleShotPrice flexDecimal `json:"double_shot_price"`
		MixersAllowed   flexBool    `json:"mixers_allowed"`
	}
	if err := c.getJSON(ctx, "/shops/"+url.PathEscape(shopID)+"/menu", nil, &payload); err != nil {
		return nil, err
	}
	items := make([]MenuItem, 0, len(payload))
	for _, raw := range payload {
		items = append(items, MenuItem{
			ID:              raw.ID.String(),
			Name:            raw.Name,
			Category:        raw.Category,
			Price:           raw.Price.Decimal(),
			DoubleShotPrice: raw.DoubleShotPrice.Decimal(),
			MixersAllowed:   bool(raw.MixersAllowed),
		})
	}
	return items, nil
}

type linePayload struct {
	LineID              flexString  `json:"line_id"`
	ProductID           flexString  `json:"product_id"`
	Name                string      `json:"product_name"`
	UnitPrice           flexDecimal `json:"unit_price"`
	Quantity            flexInt     `json:"qty"`
	DoubleShotCount     flexInt     `json:"double_shot_count"`
	DoubleShotUnitPrice flexDecimal `json:"double_shot_unit_price"`
	MixerName           *string     `json:"mixer_name"`
	SpecialInstructions *string     `json:"special_instructions"`
	ShopID              flexString  `json:"shop_id"`
}

func (p linePayload) toRemoteLine() RemoteLine {
	return RemoteLine{
		LineID:              p.LineID.String(),
		ProductID:           p.ProductID.String(),
		Name:                p.Name,
		UnitPrice:           p.UnitPrice.Decimal(),
		Quantity:            int(p.Quantity),
		DoubleShotCount:     int(p.DoubleShotCount),
		DoubleShotUnitPrice: p.DoubleShotUnitPrice.Decimal(),
		MixerName:           p.MixerName,
		SpecialInstructions: p.SpecialInstructions,
		ShopID:              p.ShopID.String(),
	}
}

// GetCart fetches the remote cart for the given key.
func (c *Client) GetCart(ctx context.Context, key CartKey) (*RemoteCart, error) {
	var payload struct {
		Items []linePayload `json:"items"`
	}
	query := cartKeyValues(key)
	if err := c.getJSON(ctx, "/cart", query, &payload); err != nil {
		return nil, err
	}
	cart := &RemoteCart{Lines: make([]RemoteLine, 0, len(payload.Items))}
	for _, raw := range payload.Items {
		cart.Lines = append(cart.Lines, raw.toRemoteLine())
	}
	return cart, nil
}

// AddLine appends one line to the remote cart.
func (c *Client) AddLine(ctx context.Context, key CartKey, line RemoteLine) error {
	form := cartKeyValues(key)
	form.Set("product_id", line.ProductID)
	form.Set("product_name", line.Name)
	form.Set("unit_price", line.UnitPrice.String())
	form.Set("qty", strconv.Itoa(line.Quantity))
	form.Set("double_shot_count", strconv.Itoa(line.DoubleShotCount))
	form.Set("double_shot_unit_price", line.DoubleShotUnitPrice.String())
	form.Set("shop_id", line.ShopID)
	if line.MixerName != nil {
		form.Set("mixer_name", *line.MixerName)
	}
	if line.SpecialInstructions != nil {
		form.Set("special_instructions", *line.SpecialInstructions)
	}
	return c.postForm(ctx, "/cart/add", form, nil)
}

// AddLines submits lines as one batch call. Used by the guest-to-account
// sync so the transfer is all-or-nothing on the vendor side.
func (c *Client) AddLines(ctx context.Context, key CartKey, lines []RemoteLine) error {
	if len(lines) == 0 {
		return nil
	}
	items := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		item := map[string]any{
			"product_id":             line.ProductID,
			"product_name":           line.Name,
			"unit_price":             line.UnitPrice.String(),
			"qty":                    line.Quantity,
			"double_shot_count":      line.DoubleShotCount,
			"double_shot_unit_price": line.DoubleShotUnitPrice.String(),
			"shop_id":                line.ShopID,
		}
		if line.MixerName != nil {
			item["mixer_name"] = *line.MixerName
		}
		if line.SpecialInstructions != nil {
			item["special_instructions"] = *line.SpecialInstructions
		}
		items = append(items, item)
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode batch items")
	}
	form := cartKeyValues(key)
	form.Set("items", string(encoded))
	return c.postForm(ctx, "/cart/add-multiple", form, nil)
}

// UpdateLineQuantity changes the quantity of one remote cart line.
func (c *Client) UpdateLineQuantity(ctx context.Context, key CartKey, lineID string, qty int) error {
	form := cartKeyValues(key)
	form.Set("line_id", lineID)
	form.Set("qty", strconv.Itoa(qty))
	return c.postForm(ctx, "/cart/update", form, nil)
}

// RemoveLine deletes one remote cart line.
func (c *Client) RemoveLine(ctx context.Context, key CartKey, lineID string) error {
	form := cartKeyValues(key)
	form.Set("line_id", lineID)
	return c.postForm(ctx, "/cart/remove", form, nil)
}

// ClearCart empties the remote cart for the given key.
func (c *Client) ClearCart(ctx context.Context, key CartKey) error {
	return c.postForm(ctx, "/cart/clear", cartKeyValues(key), nil)
}

// CreateOrder submits the reconciled cart as a new order. The vendor
// deduplicates on transaction_id, so retries with the same id are safe.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	form := url.Values{}
	form.Set("transaction_id", req.TransactionID)
	form.Set("device_id", req.DeviceID)
	if req.UserID != "" {
		form.Set("user_id", req.UserID)
	}
	form.Set("shop_id", req.ShopID)
	if req.TableNumber != "" {
		form.Set("table_no", req.TableNumber)
	}
	form.Set("order_type", req.OrderTypeCode)
	form.Set("total", req.Total.String())

	var payload struct {
		OrderID        flexString `json:"order_id"`
		RemoteStatusID flexString `json:"fulfillment_id"`
	}
	if err := c.postForm(ctx, "/orders/create", form, &payload); err != nil {
		return nil, err
	}
	if payload.OrderID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedBackend, "order created without an order id")
	}
	return &CreateOrderResponse{
		OrderID:        payload.OrderID.String(),
		RemoteStatusID: payload.RemoteStatusID.String(),
	}, nil
}

// GetOrder fetches the vendor's order record, including the fulfillment
// tracking id when it has been assigned (it may arrive asynchronously).
func (c *Client) GetOrder(ctx context.Context, orderID string) (*RemoteOrder, error) {
	var payload struct {
		OrderID        flexString `json:"order_id"`
		RemoteStatusID flexString `json:"fulfillment_id"`
		ShopID         flexString `json:"shop_id"`
	}
	if err := c.getJSON(ctx, "/orders/"+url.PathEscape(orderID), nil, &payload); err != nil {
		return nil, err
	}
	return &RemoteOrder{
		OrderID:        payload.OrderID.String(),
		RemoteStatusID: payload.RemoteStatusID.String(),
		ShopID:         payload.ShopID.String(),
	}, nil
}

// GetFulfillmentState reads the raw fulfillment state for a tracking id.
// The caller decides how an unknown value affects the tracked state.
func (c *Client) GetFulfillmentState(ctx context.Context, remoteStatusID string) (string, error) {
	var payload struct {
		State flexString `json:"state"`
	}
	if err := c.getJSON(ctx, "/fulfillments/"+url.PathEscape(remoteStatusID), nil, &payload); err != nil {
		return "", err
	}
	return payload.State.String(), nil
}

func cartKeyValues(key CartKey) url.Values {
	values := url.Values{}
	values.Set("device_id", key.DeviceID)
	if key.UserID != "" {
		values.Set("user_id", key.UserID)
	}
	return values
}

// getJSON performs an idempotent read with bounded retries on transport
// errors. Mutations never retry here; their callers own retry semantics.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
		}
		c.decorate(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commerce request failed"))
		}
		defer resp.Body.Close()

		if decodeErr := c.decode(resp, dest); decodeErr != nil {
			typed := pkgerrors.As(decodeErr)
			if typed != nil && typed.Code() == pkgerrors.CodeDependency {
				return retry.RetryableError(decodeErr)
			}
			return decodeErr
		}
		return nil
	})
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commerce request failed")
	}
	defer resp.Body.Close()

	return c.decode(resp, dest)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// decode enforces the JSON-or-failure rule: an HTML error page or any other
// non-JSON body from the vendor is a backend failure, never data.
func (c *Client) decode(resp *http.Response, dest any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read response body")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("commerce backend returned %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformedBackend, err, "response is not json").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if !env.ok() {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = "commerce backend rejected the request"
		}
		// Vendor message passes through verbatim for the UI.
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	}

	if dest == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeMalformedBackend, "response envelope has no data")
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformedBackend, err, "cannot decode response data")
	}
	return nil
}
