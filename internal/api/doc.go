// Package api implements the HTTP REST API and WebSocket server of exhibitd.
//
// This package provides:
//   - REST endpoints for device reads, device and type actions, custom
//     devices, state history and the controller link
//   - A WebSocket hub relaying device.updated, link.state, link.data and
//     operation.failed events from the event bus
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Errors
//
// Failures use the envelope {status, code, message}. Codes are not_found,
// bad_request, conflict, link_unavailable, protocol_error and internal_error.
// A command rejected because the link is down returns 503 link_unavailable;
// nothing is queued for later.
package api
