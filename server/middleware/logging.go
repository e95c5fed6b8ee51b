package middleware

import (
	"net/http"
	"time"

	"github.com/kbukum/imgflow/logger"
)

// QuietPaths are not logged by RequestLogger: the probe endpoints.
var QuietPaths = []string{"/health", "/alive", "/ready", "/metrics"}

// RequestLogger logs one line per request: 5xx as error, 4xx as warn and the
// rest at debug. Requests to QuietPaths are not logged.
func RequestLogger(log *logger.Logger) Middleware {
	if log == nil {
		log = logger.Default()
	}
	quiet := make(map[string]bool, len(QuietPaths))
	for _, p := range QuietPaths {
		quiet[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if quiet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)

			fields := map[string]interface{}{
				"method":             r.Method,
				"path":               r.URL.Path,
				logger.FieldStatus:   rec.Status(),
				"bytes":              rec.bytes,
				logger.FieldDuration: time.Since(start).Milliseconds(),
			}
			if id := r.Header.Get(HeaderRequestID); id != "" {
				fields[logger.FieldRequestID] = id
			}
			switch s := rec.Status(); {
			case s >= 500:
				log.Error("Request completed", fields)
			case s >= 400:
				log.Warn("Request completed", fields)
			default:
				log.Debug("Request completed", fields)
			}
		})
	}
}
