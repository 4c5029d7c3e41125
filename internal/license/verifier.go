package license

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// KeyPrefix is the leading segment of every AIChemist license key
const KeyPrefix = "AICHEMIST"

// embeddedPublicKey is the Ed25519 public key matching the private key held
// only by the license-issuing process. Hex-encoded 32 bytes.
const embeddedPublicKey = "302a77b64cd31a9ba94efd4b2f3f9f8e2c1d5a0b7e6f4c3d2b1a09f8e7d6c5b4"

// Verifier verifies signed license payloads. It holds no mutable state and is
// safe for concurrent use without synchronization.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier creates a verifier for the given public key; used by tests and
// by tooling that works against a non-production issuer.
func NewVerifier(publicKey ed25519.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey}
}

// DefaultVerifier returns the verifier bound to the embedded production key
func DefaultVerifier() *Verifier {
	key, err := hex.DecodeString(embeddedPublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		// The constant is fixed at build time; a bad value is a build defect.
		panic("license: embedded public key is invalid")
	}
	return &Verifier{publicKey: ed25519.PublicKey(key)}
}

// Verify decodes and verifies a license key of the form
// AICHEMIST:<base64 signature>:<base64 canonical JSON payload> and returns the
// payload. Any mismatch between the signature and the exact payload bytes,
// including truncation, key re-ordering, or a single bit flip, fails with
// ErrInvalidSignature. Verify is a pure function with no side effects.
func (v *Verifier) Verify(licenseKey string) (*Payload, error) {
	parts := strings.Split(strings.TrimSpace(licenseKey), ":")
	if len(parts) != 3 || parts[0] != KeyPrefix {
		return nil, ErrInvalidFormat
	}

	signature, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, NewError(KindFormat, CodeInvalidFormat, "signature segment is not valid base64", err)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, ErrInvalidFormat
	}

	payloadBytes, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, NewError(KindFormat, CodeInvalidFormat, "payload segment is not valid base64", err)
	}

	if !ed25519.Verify(v.publicKey, payloadBytes, signature) {
		return nil, ErrInvalidSignature
	}

	dec := json.NewDecoder(bytes.NewReader(payloadBytes))
	dec.DisallowUnknownFields()
	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, NewError(KindFormat, CodeMalformedPayload, "payload is not valid canonical JSON", err)
	}
	if !payload.LicenseType.Valid() || payload.MaxActivations < 1 {
		return nil, ErrMalformedPayload
	}

	// The signature only covers the canonical encoding; a payload that decodes
	// but re-encodes differently was not produced by the issuer.
	canonical, err := payload.CanonicalJSON()
	if err != nil || !bytes.Equal(canonical, payloadBytes) {
		return nil, ErrMalformedPayload
	}

	return &payload, nil
}

// Encode assembles a license key from a signature and canonical payload bytes.
// The issuing process uses the same framing; the app only ever decodes.
func Encode(signature, canonicalPayload []byte) string {
	return KeyPrefix + ":" +
		base64.StdEncoding.EncodeToString(signature) + ":" +
		base64.StdEncoding.EncodeToString(canonicalPayload)
}

// MaskKey masks a license key for safe logging
func MaskKey(key string) string {
	if len(key) <= 16 {
		return "***"
	}
	return key[:16] + "..."
}
