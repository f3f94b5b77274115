// Package api implements the local HTTP API and WebSocket event stream for
// the matrix bridge.
//
// This package provides:
//   - REST endpoints for matrix status, cable and CEC reads, and commands
//   - A WebSocket hub relaying controller events as they happen
//   - JWT bearer verification against tokens issued by Gray Logic Core
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API is a second front end beside the MQTT bridge. Both dispatch
// through the controller's Execute and Query, so a command means the same
// thing whichever way it arrives and fails with the same error codes.
//
// # Security
//
// With security.jwt.secret set every route except /health needs a bearer
// token, and each command is checked against the caller's role.
// WebSocket connections use single-use tickets to keep tokens out of URLs.
// With no secret the API is open and should only listen on localhost.
//
// # Graceful Degradation
//
// The server runs while the matrix is unreachable. Reads and commands
// fail with NOT_CONNECTED and the event stream reports the reconnect.
package api
