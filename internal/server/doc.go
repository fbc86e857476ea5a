/*
Package server is the HTTP surface of the router.

# Routes

  - POST /v1/classify classifies one request and returns the routing decision
  - POST /v1/cache/invalidate drops a cached classification
  - GET /healthz reports component health; it always answers 200
  - GET /metrics serves the Prometheus registry

# Middleware

New applies the chain in this order:
 1. RequestIDMiddleware keeps a caller's X-Request-ID or generates one
 2. LoggingMiddleware logs each request with fields added through AddLogField and AddError
 3. TimeoutMiddleware bounds the request context
 4. Recoverer turns panics into 500s
 5. otelhttp starts the server span

RateLimitHeadersMiddleware wraps the classify route only. The handler calls
SetRateLimits after the limiter has counted the request, and the x-ratelimit-*
headers are written just before the status line.

# Example

	srv := server.New(8080, logger, 30*time.Second)
	srv.Register(server.NewHandler(svc, logger, server.WithHealth(svc)))
	if err := srv.Listen(); err != nil {
		return err
	}
	go srv.Serve()
*/
package server
