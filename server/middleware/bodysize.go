package middleware

import (
	"net/http"
	"strings"

	"github.com/docker/go-units"
)

const defaultMaxBodySize = 10 * units.MiB

// BodySizeLimit caps request bodies at maxSize, e.g. "10MB". Reads past the
// cap fail with *http.MaxBytesError.
func BodySizeLimit(maxSize string) Middleware {
	limit := ParseSize(maxSize, defaultMaxBodySize)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// ParseSize reads a size such as "10MB", "512k" or "2048" with binary
// multiples. Empty, unparseable or non-positive input yields def.
func ParseSize(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := units.RAMInBytes(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
