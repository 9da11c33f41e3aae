package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/filedepot/filedepot/internal/models"
)

// RecoveryMiddleware converts a handler panic into the engine's JSON
// error envelope so one bad request cannot take the process down.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			// net/http uses this sentinel to abort a response; the
			// server handles it itself.
			if v == http.ErrAbortHandler {
				panic(v)
			}

			slog.Error("panic while serving request",
				"panic", v,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", getClientIP(r),
				"stack", string(debug.Stack()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(models.ErrorResponse{
				Error: "Internal server error",
				Code:  "INTERNAL_ERROR",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
