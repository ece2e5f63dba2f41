// Package handlers contains the reusable pieces of the HTTP surface: health
// checks and gin middleware.
//
// # Health Checks
//
// The HealthChecker runs named checks in parallel. Critical checks decide
// /health; every check decides /ready:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("cache", handlers.NewBreakerCheck(cache.Breaker()))
//
// # Middleware
//
// The server installs, in order:
//
//	router.Use(handlers.RequestIDMiddleware(log))
//	router.Use(handlers.Recovery(log))
//	router.Use(handlers.RequestLogger(log))
//	router.Use(handlers.Metrics(m))
//
// and, on the /api/v1 group, SecurityHeaders, RequestSizeLimit and the
// optional APIKeyAuth.
//
// Every aborting middleware writes the same error envelope as the API
// handlers:
//
//	{"success": false, "error": {"code": "invalid_api_key", "message": "Invalid API key"}, "request_id": "..."}
package handlers
