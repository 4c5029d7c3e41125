// Package app provides application initialization and lifecycle management
// for the AIChemist licensing engine. It wires configuration, logging,
// telemetry, the remote backend, the activation service, trial tracking, the
// feature gate, converters and the loopback HTTP server, and coordinates
// graceful shutdown.
//
// # Initialization Flow
//
// The typical startup sequence:
//
//	1. Load and validate configuration
//	2. Initialize the logger and OpenTelemetry providers
//	3. Construct the remote backend (HTTP API or Google Sheets)
//	4. Open the upload queue, license store and trial ledger
//	5. Wire the activation service, gate, notify hub and converters
//	6. Validate the stored license on startup
//	7. Serve the loopback API and run background workers
//
// # Shutdown
//
// Run blocks until the context is cancelled, then drains the HTTP server,
// stops the activation service and notify hub, performs a final upload-queue
// flush and shuts down telemetry.
package app
