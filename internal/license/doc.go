// Package license implements the licensing engine for AIChemist. It provides
// offline cryptographic verification of license keys, the activation lifecycle
// against the remote licensing backend, and durable usage reporting.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- Verifier: offline Ed25519 verification of license keys
//	- Store: atomic persistence of the local activation record
//	- Service: the activation and validation state machine
//	- UploadQueue: durable store-and-forward of usage and deactivation events
//	- Metrics: otel instrumentation shared by the components above
//
// # Key Format
//
// A license key is a single line of the form
//
//	AICHEMIST:<base64 signature>:<base64 payload>
//
// where the payload is a JSON document describing the license (type, grants,
// seat ceiling, expiry) and the signature is Ed25519 over the exact payload
// bytes. Verification is fully offline; only activation and periodic
// revalidation reach the network.
//
// # Validation Flow
//
// Startup validation follows these steps:
//
//	1. Load the stored activation record
//	2. Re-verify the embedded key signature
//	3. If the last successful validation is within the TTL, accept it as-is
//	4. Otherwise revalidate against the backend
//	5. On network failure, fall back to the offline grace window
//
// A record whose last-validated timestamp lies in the future indicates a
// clock rollback; such a record is always revalidated and is not eligible
// for grace.
//
// # States
//
// The service exposes one of: no_license, online_valid, offline_valid, grace,
// invalid, revoked. Conversion authorization reads the cached state and never
// performs network I/O on the critical path.
package license
