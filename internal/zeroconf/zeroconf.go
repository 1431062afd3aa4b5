// Package zeroconf advertises the hub's web UI over mDNS/DNS-SD so
// dashboards on the LAN can find it without an address.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"

	"github.com/hearthlabs/homehub/internal/models"
)

// ServiceType is the DNS-SD service type registered for the hub.
const ServiceType = "_http._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, e.g. "Home Hub (kitchen)"
	port int
	txt  []string
}

// New creates a zeroconf Service that will advertise name on port.
func New(name string, port int, info models.Info) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  TXT(info),
	}
}

// TXT returns the TXT records describing the hub.
func TXT(info models.Info) []string {
	return []string{
		"version=" + info.Version,
		"host=" + info.Hostname,
		"path=/",
		"api=/api",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.txt,       // TXT records
		nil,         // ifaces, nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// PortFromAddr extracts the port of a listen address such as ":8080".
func PortFromAddr(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: invalid port", addr)
	}
	return port, nil
}
