// Package server provides the HTTP status API of a running relay.
//
// Routes:
//
//   - GET /api/sources: configured sources merged with their latest scan
//   - GET /api/sources/{name}: one source
//   - GET /api/usage: usage totals and the raw bucket record
//   - GET /api/sse: Server-Sent Events stream of scan updates
//   - GET /metrics: Prometheus exposition
//   - GET /healthz: liveness
//
// The server shuts down gracefully on context cancellation, with a 5-second
// timeout for in-flight requests.
package server
