// Package trial enforces the free tier for unlicensed installs. It meters
// conversions against a quota, restricts file size and converter set, and
// persists its ledger with tamper evidence.
//
// # Ledger
//
// The trial ledger is a JSON file signed with HMAC-SHA256; the key is derived
// with PBKDF2 from an application secret and the install id. A ledger whose
// signature does not verify is discarded and reinitialized. The signature
// raises the bar for casual tampering; it is not a secrecy mechanism, and the
// remote backend remains the authority once a license is activated.
//
// # Concurrency
//
// Multiple app processes may share one ledger. RecordConversion takes an
// advisory lock file, re-reads the ledger under the lock, merges by taking the
// maximum of each counter, and only then decides whether the conversion is
// admitted. CanConvert is an optimistic pre-check for UI purposes; the
// admit decision that counts is the one made inside RecordConversion.
//
// Failed conversions consume quota. The quota meters executed attempts, not
// successful outputs.
package trial
