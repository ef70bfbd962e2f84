package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/httpx"
)

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.WithFields(log.Fields{
				"component": "panic_recovery",
				"method":    r.Method,
				"path":      r.URL.Path,
				"panic":     fmt.Sprintf("%v", rec),
				"stack":     string(debug.Stack()),
			}).Error("Handler panicked, recovered")
			httpx.WriteJSON(w, http.StatusInternalServerError, httpx.ErrorBody{Error: "internt fel"})
		}()
		next.ServeHTTP(w, r)
	})
}
