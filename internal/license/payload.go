package license

import (
	"encoding/json"
	"time"
)

// Type identifies the commercial license tier. Each tier carries its own
// capability set; converters are authorized against capabilities, not against
// ad hoc string comparisons on the payload.
type Type string

const (
	TypeTrial      Type = "Trial"
	TypeBasic      Type = "Basic"
	TypePro        Type = "Pro"
	TypeEnterprise Type = "Enterprise"
)

// Valid reports whether the tier is one of the known license types
func (t Type) Valid() bool {
	switch t {
	case TypeTrial, TypeBasic, TypePro, TypeEnterprise:
		return true
	}
	return false
}

// Capabilities returns the converter set the tier unlocks. The wildcard "*"
// unlocks every registered converter.
func (t Type) Capabilities() []string {
	switch t {
	case TypeBasic:
		return []string{"html-pdf", "xlsx-csv", "md-pdf", "docx-pdf"}
	case TypePro, TypeEnterprise:
		return []string{"*"}
	default:
		return nil
	}
}

// Payload is the signed, immutable license document. Field order here is the
// canonical JSON key order the issuing process signs:
// email, license_type, max_activations, issued_at, expires_at, features.
type Payload struct {
	Email          string     `json:"email"`
	LicenseType    Type       `json:"license_type"`
	MaxActivations int        `json:"max_activations"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Features       []string   `json:"features"`
}

// CanonicalJSON renders the payload in the canonical form covered by the
// signature. encoding/json emits struct fields in declaration order, so the
// struct declaration above is the format definition.
func (p *Payload) CanonicalJSON() ([]byte, error) {
	return json.Marshal(p)
}

// Expired reports whether the payload itself has lapsed; a nil ExpiresAt
// means a perpetual license.
func (p *Payload) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Grants reports whether the license covers the named converter, either via
// the tier capability set or via an explicit feature grant.
func (p *Payload) Grants(converter string) bool {
	for _, c := range p.LicenseType.Capabilities() {
		if c == "*" || c == converter {
			return true
		}
	}
	for _, f := range p.Features {
		if f == "*" || f == converter {
			return true
		}
	}
	return false
}

// Status is the locally observed lifecycle state of an activated license
type Status string

const (
	StatusActive  Status = "active"
	StatusGrace   Status = "grace"
	StatusInvalid Status = "invalid"
	StatusRevoked Status = "revoked"
)

// Record wraps a verified payload with the mutable local metadata the
// activation service reconciles against the remote authority.
type Record struct {
	LicenseKey      string    `json:"license_key"`
	Payload         Payload   `json:"payload"`
	Status          Status    `json:"status"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	OnlineConfirmed bool      `json:"online_confirmed"`
}

// LicenseID is the remote identifier for the license. The backend keys
// licenses by the raw encoded key string.
func (r *Record) LicenseID() string { return r.LicenseKey }

// Usable reports whether the record currently grants access
func (r *Record) Usable() bool {
	return r.Status == StatusActive || r.Status == StatusGrace
}
