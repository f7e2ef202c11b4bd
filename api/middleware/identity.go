package middleware

import (
	"net/http"
	"strings"

	"github.com/commercekit/checkout-backend/pkg/logger"
)

const (
	customerIDHeader = "X-Customer-Id"
	cartIDHeader     = "X-Cart-Id"
)

// Identity lifts the caller's customer id and anonymous cart id from the
// request headers into the context. The gateway in front of this service owns
// authentication; an empty customer id means an anonymous caller.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			customerID := strings.TrimSpace(r.Header.Get(customerIDHeader))
			cartID := strings.TrimSpace(r.Header.Get(cartIDHeader))

			if customerID != "" {
				ctx = WithCustomerID(ctx, customerID)
				if logg != nil {
					ctx = logg.WithCustomerID(ctx, customerID)
				}
			}
			if cartID != "" {
				ctx = WithCartID(ctx, cartID)
				if logg != nil {
					ctx = logg.WithCartID(ctx, cartID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
