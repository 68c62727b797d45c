package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID threads a request id through the response header and the log
// context. An inbound id is honored only when it parses as a UUID, so a
// client cannot inject arbitrary strings into logs.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(reqID); err != nil {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
