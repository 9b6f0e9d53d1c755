// Package middleware provides the request-context middleware of the search
// API.
//
// RequestID assigns or propagates X-Request-ID and attaches the logger:
//
//	router.Use(middleware.RequestID(logger))
//
// Scope copies the gateway identity headers (X-User-ID, X-Department-Scope)
// into the context, where search read paths pick up the department filter:
//
//	router.Use(middleware.Scope)
//
// RateLimiter throttles read paths per user, or per client IP for anonymous
// callers:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	api.Use(limiter.Handler)
package middleware
