// Package middleware provides request rate limiting for the admin API.
//
// Requests are keyed by the user ID placed in the context by
// rbac.IdentityMiddleware, or by client IP for anonymous requests:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx, logger)
//	handler = middleware.NewRateLimitMiddleware(limiter, logger).Handler(handler)
//
// With several instances, use NewDistributedRateLimiter so the budget is
// shared through Redis. Redis errors let requests through unless
// SetFailOpen(false) is called.
package middleware
