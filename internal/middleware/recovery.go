package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sweetshop-rest-api/pkg/apierror"
)

// Recovery returns a middleware that turns panics into 500 responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("panic", fmt.Sprint(err)),
						zap.String("path", r.URL.Path),
						zap.String("request_id", GetRequestID(r.Context())),
						zap.Stack("stack"),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write(apierror.InternalError("internal server error").ToJSON())
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
