package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/logger"
)

// loggingMiddleware logs method, path, status, and duration for every
// request, the way the teacher's slmiddleware.LoggingMiddleware does.
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// recoveryMiddleware converts a panicking handler into a 500 InternalError
// response instead of crashing the process, mirroring
// slmiddleware.NewRecoveryMiddleware.
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", rec).Error("handler panic")
					writeError(w, apperrors.Internal("internal error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ownerMiddleware resolves the caller's owner id via resolver and attaches
// it to the request context for handlers to read with ownerFromContext.
// Out-of-scope auth (spec Non-goals) is expected to wrap or replace
// resolver in a real deployment.
func ownerMiddleware(resolver OwnerResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := resolver.OwnerID(r)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), ownerID)))
		})
	}
}
