package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
)

// Recovery turns a panic into a logged 500 with an INTERNAL_ERROR body.
func Recovery(log *logger.Logger) Middleware {
	if log == nil {
		log = logger.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error("Panic recovered", map[string]interface{}{
					logger.FieldError: fmt.Sprint(v),
					"stack":           string(debug.Stack()),
					"method":          r.Method,
					"path":            r.URL.Path,
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(apperrors.Internal(fmt.Errorf("panic: %v", v)).ToResponse())
			}()
			next.ServeHTTP(w, r)
		})
	}
}
