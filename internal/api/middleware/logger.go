// Package middleware contains the HTTP middleware of the API: request
// logging, panic recovery, per-IP rate limiting and the admin/webhook
// credentials checks.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// LogRequests logs every request after it completes.
// Fields: request_id, method, path, status, duration, ip.
// The query string is left out: it carries action tokens.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := log.WithFields(log.Fields{
			"request_id": chimw.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   time.Since(start).Round(time.Millisecond).String(),
			"ip":         clientIP(r),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("Request finished")
		default:
			entry.Debug("Request finished")
		}
	})
}
