package middleware

import (
	"net/http"
	"time"

	"github.com/projectrefill/refill-backend/pkg/logger"
)

// responseMeter records the status and body size a handler produced.
type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeter) WriteHeader(code int) {
	if m.status == 0 {
		m.status = code
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeter) Write(b []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(b)
	m.bytes += n
	return n, err
}

// Logging emits one access entry per request. Server errors log at warn since
// the handler already logged the failure itself.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			meter := &responseMeter{ResponseWriter: w}

			next.ServeHTTP(meter, r.WithContext(ctx))

			if meter.status == 0 {
				meter.status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"status":      meter.status,
				"bytes":       meter.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if meter.status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request completed with server error")
				return
			}
			logg.Info(ctx, "request completed")
		})
	}
}
