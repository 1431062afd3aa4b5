// Package identity reports who this hub is: version and hostname.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// DefaultVersion is reported when neither metadata.json nor the build
// carries a version.
const DefaultVersion = "0.1.0"

const fallbackHostname = "homehub"

type metadata struct {
	Version string `json:"version"`
}

// Hostname returns the system hostname, or "homehub" when it is unknown.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return fallbackHostname
	}
	return h
}

// Version resolves the hub version. metadata.json in dir wins, then the
// module version stamped by `go install`, then DefaultVersion.
func Version(dir string) string {
	if v := versionFromFile(filepath.Join(dir, "metadata.json")); v != "" {
		return v
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			return strings.TrimPrefix(v, "v")
		}
	}
	return DefaultVersion
}

func versionFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var m metadata
	if json.Unmarshal(data, &m) != nil {
		return ""
	}
	return strings.TrimSpace(m.Version)
}

// Describe builds the info block published in the dashboard state.
func Describe(dir string, startedAt time.Time) models.Info {
	return models.Info{
		Version:   Version(dir),
		Hostname:  Hostname(),
		StartedAt: startedAt,
	}
}

// ServiceName is the mDNS instance name advertised for this hub.
func ServiceName(hostname string) string {
	return "Home Hub (" + strings.TrimSuffix(hostname, ".local") + ")"
}
