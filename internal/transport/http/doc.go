// Package http implements the loopback HTTP API consumed by the AIChemist
// desktop shell. It provides a thin layer between HTTP transport and the
// licensing engine, keeping handlers focused solely on HTTP concerns.
//
// # Principles
//
// Handlers in this package follow these rules:
//
//	1. Thin handlers that delegate to the activation service and gate
//	2. Request parsing and validation via render.Bind and validator tags
//	3. Error transformation through the shared APIError envelope
//	4. No licensing logic; decisions belong to the service and gate
//
// # Endpoints
//
//	GET  /healthz              liveness
//	GET  /metrics              prometheus scrape endpoint
//	GET  /ws                   websocket push of license state transitions
//	GET  /api/license/status   current gate status
//	POST /api/license/activate activate a license key (rate limited)
//	POST /api/license/deactivate release this machine's seat
//	GET  /api/convert          list registered converters
//	POST /api/convert          run a conversion
//
// The server binds to 127.0.0.1 only; the shell is the sole intended client.
package http
