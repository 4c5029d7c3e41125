package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Fingerprint identifies the local device. Only the Hash ever leaves the
// machine; the raw components stay local for diagnostics.
type Fingerprint struct {
	Hash        string    `json:"hash"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUInfo     string    `json:"cpu_info"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager computes and caches the device fingerprint. Hardware
// probing is cheap but not free, and the hash is stable within a session.
type FingerprintManager struct {
	mu       sync.RWMutex
	cached   *Fingerprint
	expires  time.Time
	cacheTTL time.Duration
}

// NewFingerprintManager creates a fingerprint manager with a 1h cache
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{cacheTTL: time.Hour}
}

// MachineIDHash returns the stable device hash bound to activations
func (m *FingerprintManager) MachineIDHash() (string, error) {
	fp, err := m.Generate()
	if err != nil {
		return "", err
	}
	return fp.Hash, nil
}

// Generate computes the device fingerprint, combining MAC address, hostname,
// CPU info and platform into a SHA-256 hash. Individual probe failures fall
// back to placeholders so a partially-identifiable machine still activates.
func (m *FingerprintManager) Generate() (*Fingerprint, error) {
	m.mu.RLock()
	if m.cached != nil && time.Now().Before(m.expires) {
		fp := *m.cached
		m.mu.RUnlock()
		return &fp, nil
	}
	m.mu.RUnlock()

	mac, err := primaryMAC()
	if err != nil {
		mac = "unknown-mac"
		slog.Warn("failed to probe MAC address, using fallback",
			slog.String("error", err.Error()))
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	cpu := cpuInfo()

	combined := strings.Join([]string{mac, hostname, cpu, runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(combined))

	fp := &Fingerprint{
		Hash:        hex.EncodeToString(sum[:]),
		Hostname:    hostname,
		MACAddress:  mac,
		CPUInfo:     cpu,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	m.mu.Lock()
	m.cached = fp
	m.expires = time.Now().Add(m.cacheTTL)
	m.mu.Unlock()

	return fp, nil
}

// ClearCache drops the cached fingerprint, forcing a re-probe
func (m *FingerprintManager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.expires = time.Time{}
}

// primaryMAC returns the MAC of the first up, non-loopback interface
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no usable MAC address found")
}

// cpuInfo returns a short stable CPU identifier per platform
func cpuInfo() string {
	switch runtime.GOOS {
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return shortHash(id)
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					return shortHash(line)
				}
			}
		}
	}
	return shortHash(runtime.GOOS + "-" + runtime.GOARCH)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
