// Package httputil provides JSON response helpers and the outer HTTP
// middleware shared by every gateway route.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteError(w, err) // status and payload from the auth error taxonomy
//
// Every error body has the shape
//
//	{"error": "forbidden", "message": "...", "code": "AUTH_003", "timestamp": "..."}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.ObserveResponses(httputil.AccessLog(logger), httputil.RequestMetrics(metrics)),
//		httputil.RecoveryMiddleware(logger),
//	)
//
// ObserveResponses runs after the handler returns and hands each observer a
// ResponseRecord (status, bytes, duration); it never replaces the handler's
// output.
package httputil
