package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tapdine/tapdine-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	deviceIDHeader  = "X-Device-Id"
)

// RequestID tags every request with a correlation id and, when the client
// sends one, the device id, so log lines from the cart and order flows can
// be grouped per device.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if deviceID := r.Header.Get(deviceIDHeader); deviceID != "" {
					ctx = logg.WithDeviceID(ctx, deviceID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
