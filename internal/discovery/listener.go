package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Listener is a capture listener found on the local network.
type Listener struct {
	// Instance is the advertised mDNS instance name (e.g., "msrcap on gamebox")
	Instance string

	// Hostname is the mDNS hostname (e.g., "gamebox.local.")
	Hostname string

	// IP is the first advertised address, IPv4 preferred
	IP string

	// Port is the capture port
	Port int

	// Metadata contains the TXT record data
	// Common fields: "version", "max_connections", "log"
	Metadata map[string]string

	// DiscoveredAt is when the listener was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the listener
func (l *Listener) String() string {
	return fmt.Sprintf("%s (%s) at %s", l.Instance, l.Hostname, l.Address())
}

// Address returns the host:port a game client should be pointed at.
func (l *Listener) Address() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (l *Listener) GetMetadata(key string) string {
	if l.Metadata == nil {
		return ""
	}
	return l.Metadata[key]
}
