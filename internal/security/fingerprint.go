// Package security derives the device identity used for license gating.
// Fingerprint generation must never fail outright: every fact that cannot
// be gathered degrades to "unknown" so the later authority call can still
// be made.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"
	"sync"
	"time"
)

// unknownValue substitutes any device fact that cannot be gathered
const unknownValue = "unknown"

// hardwareIDLength is the number of hex characters kept from the digest
const hardwareIDLength = 32

// DeviceFingerprint identifies the machine to the license authority.
// MACAddress is empty when no qualifying interface exists.
type DeviceFingerprint struct {
	HardwareID string `json:"hardwareId"`
	MACAddress string `json:"macAddress,omitempty"`
	IPAddress  string `json:"ipAddress"`
	PublicIP   string `json:"publicIp"`
	Platform   string `json:"platform"`
	Arch       string `json:"arch"`
	Hostname   string `json:"hostname"`
	OSUser     string `json:"osUser"`
}

// Generator produces device fingerprints, caching the result briefly so
// repeated validation calls do not re-walk the interface table.
type Generator struct {
	prober *PublicIPProber
	logger *slog.Logger

	mu          sync.RWMutex
	cache       *DeviceFingerprint
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewGenerator creates a fingerprint generator. The prober handles the
// best-effort public IP lookup and may not be nil.
func NewGenerator(prober *PublicIPProber, logger *slog.Logger) *Generator {
	return &Generator{
		prober:   prober,
		logger:   logger.With(slog.String("component", "fingerprint")),
		cacheTTL: 1 * time.Hour,
	}
}

// Generate derives the device fingerprint. It never returns an error:
// unavailable facts are substituted with "unknown" (or left empty for the
// MAC address) because the fingerprint gates the later authority call.
func (g *Generator) Generate(ctx context.Context) *DeviceFingerprint {
	g.mu.RLock()
	if g.cache != nil && time.Now().Before(g.cacheExpiry) {
		cached := *g.cache
		g.mu.RUnlock()
		return &cached
	}
	g.mu.RUnlock()

	start := time.Now()

	hostname := hostnameOrUnknown()
	platform := runtime.GOOS
	arch := runtime.GOARCH
	cpu := cpuModel()

	fp := &DeviceFingerprint{
		HardwareID: hardwareID(hostname, platform, arch, cpu),
		MACAddress: primaryMAC(),
		IPAddress:  primaryIPv4(),
		PublicIP:   g.prober.Lookup(ctx),
		Platform:   platform,
		Arch:       arch,
		Hostname:   hostname,
		OSUser:     osUser(),
	}

	g.mu.Lock()
	g.cache = fp
	g.cacheExpiry = time.Now().Add(g.cacheTTL)
	g.mu.Unlock()

	g.logger.DebugContext(ctx, "device fingerprint generated",
		slog.String("hardware_id", fp.HardwareID),
		slog.String("hostname", fp.Hostname),
		slog.String("mac_address", fp.MACAddress),
		slog.String("ip_address", fp.IPAddress),
		slog.String("public_ip", fp.PublicIP),
		slog.Duration("duration", time.Since(start)),
	)

	return fp
}

// ClearCache drops the cached fingerprint
func (g *Generator) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = nil
	g.cacheExpiry = time.Time{}
}

// hardwareID hashes the stable machine facts and keeps the first 32 hex
// characters. The inputs deliberately exclude anything transient so the id
// survives restarts but changes when the machine itself does.
func hardwareID(hostname, platform, arch, cpu string) string {
	combined := strings.Join([]string{hostname, platform, arch, cpu}, "-")
	digest := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(digest[:])[:hardwareIDLength]
}

// primaryMAC returns the MAC of the first non-loopback interface with a
// hardware address that is not all zeros, or "" when none qualifies.
func primaryMAC() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}
	return ""
}

// primaryIPv4 returns the first non-loopback IPv4 address, or "unknown"
func primaryIPv4() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return unknownValue
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return unknownValue
}

func hostnameOrUnknown() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return unknownValue
	}
	return strings.TrimSpace(hostname)
}

func osUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if name := os.Getenv("USERNAME"); name != "" {
		return name
	}
	return unknownValue
}

// cpuModel returns the first CPU's model string, or "unknown"
func cpuModel() string {
	switch runtime.GOOS {
	case "linux":
		return cpuModelLinux()
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return strings.TrimSpace(procID)
		}
		return unknownValue
	default:
		return unknownValue
	}
}

func cpuModelLinux() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return unknownValue
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "model name") {
			continue
		}
		if _, value, found := strings.Cut(line, ":"); found {
			if model := strings.TrimSpace(value); model != "" {
				return model
			}
		}
	}
	return unknownValue
}
