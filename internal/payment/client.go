// Package payment wraps the Square SDK behind the single question the
// ordering flow asks: did this payment go through, and under which
// reference id.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/tapdine/tapdine-backend/pkg/config"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("payment logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Confirmation is the outcome of a payment lookup.
type Confirmation struct {
	Success            bool
	PaymentReferenceID string
}

type paymentsAPI interface {
	Get(ctx context.Context, req *sq.GetPaymentsRequest, opts ...sqcore.RequestOption) (*sq.GetPaymentResponse, error)
}

// Client confirms payments against Square.
type Client struct {
	payments    paymentsAPI
	environment string
	logg        *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &Client{payments: sdk.Payments, environment: env, logg: logg}
	logg.Info(ctx, "square payment client initialized")
	return c, nil
}

// Confirm looks up the client-side payment and reports whether it settled.
// The returned reference id is what gets attached to the commerce order.
func (c *Client) Confirm(ctx context.Context, paymentID string) (Confirmation, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Confirmation{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		return Confirmation{}, c.mapSquareError(err, "get payment")
	}

	payment := resp.GetPayment()
	status := strings.ToUpper(stringValue(payment.GetStatus()))
	confirmation := Confirmation{
		Success:            status == "COMPLETED" || status == "APPROVED",
		PaymentReferenceID: stringValue(payment.GetID()),
	}
	fields := map[string]any{"payment_id": paymentID, "status": status}
	c.logg.Info(c.logg.WithFields(ctx, fields), "square payment confirmed")
	return confirmation, nil
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := pkgerrors.CodeDependency
		switch apiErr.StatusCode {
		case 401, 403:
			code = pkgerrors.CodeUnauthorized
		case 404:
			code = pkgerrors.CodeNotFound
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func normalizeEnv(env string) (string, error) {
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	case "":
		return sandboxEnv, nil
	}
	return "", errInvalidSquareEnv
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
