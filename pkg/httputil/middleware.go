package httputil

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// Chain chains multiple middleware together; the first runs outermost
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RequestIDMiddleware propagates or generates a request ID and attaches a
// request-scoped logger to the context.
func RequestIDMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					observability.FromContext(r.Context(), logger).WithFields(map[string]interface{}{
						"panic": rec,
						"stack": string(debug.Stack()),
					}).Error("Recovered from panic")
					WriteInternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ResponseRecord is the finalized outcome of one request
type ResponseRecord struct {
	Method     string
	Path       string
	Route      string
	Status     int
	Bytes      int
	Duration   time.Duration
	RemoteAddr string
}

// ResponseObserver receives a record after the handler has returned
type ResponseObserver func(r *http.Request, rec ResponseRecord)

// RouteNamer maps a request to a low-cardinality route label
type RouteNamer func(r *http.Request) string

// ObserveResponses records status and size through a wrapping writer and,
// once the handler returns, passes the finished record to each observer.
func ObserveResponses(namer RouteNamer, observers ...ResponseObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			rec := ResponseRecord{
				Method:     r.Method,
				Path:       r.URL.Path,
				Route:      r.URL.Path,
				Status:     rw.status,
				Bytes:      rw.bytes,
				Duration:   time.Since(start),
				RemoteAddr: r.RemoteAddr,
			}
			if namer != nil {
				rec.Route = namer(r)
			}
			for _, observe := range observers {
				observe(r, rec)
			}
		})
	}
}

// AccessLog returns an observer that writes one structured line per request
func AccessLog(logger *observability.Logger) ResponseObserver {
	return func(r *http.Request, rec ResponseRecord) {
		entry := observability.FromContext(r.Context(), logger).WithFields(map[string]interface{}{
			"method":      rec.Method,
			"path":        rec.Path,
			"route":       rec.Route,
			"status":      rec.Status,
			"bytes":       rec.Bytes,
			"duration_ms": rec.Duration.Milliseconds(),
			"remote_addr": rec.RemoteAddr,
		})
		switch {
		case rec.Status >= 500:
			entry.Error("request completed")
		case rec.Status >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// RequestMetrics returns an observer that records Prometheus HTTP metrics
func RequestMetrics(metrics *observability.Metrics) ResponseObserver {
	return func(_ *http.Request, rec ResponseRecord) {
		metrics.RecordHTTPRequest(rec.Method, rec.Route, rec.Status, rec.Duration)
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
