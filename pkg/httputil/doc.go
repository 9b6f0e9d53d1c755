// Package httputil provides JSON response helpers, request parsing and the
// generic HTTP middleware used by the search API.
//
// # Responses
//
//	httputil.WriteSuccess(w, resp)
//	httputil.WriteBadRequest(w, "limit must be a positive integer")
//	httputil.WriteServiceUnavailable(w, "search temporarily unavailable")
//
// Errors are always written as {"error": "..."}.
//
// # Requests
//
//	var in search.IndexInput
//	if !httputil.ParseJSONOrError(w, r, &in) {
//		return
//	}
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
