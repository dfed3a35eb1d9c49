package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/api/responses"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Inbound ids are echoed in error bodies and log lines, so only short opaque
// tokens are trusted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// RequestID tags each request with an id, reusing a well-formed inbound
// X-Request-Id from the storefront or gateway and minting a UUID otherwise.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := responses.WithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
