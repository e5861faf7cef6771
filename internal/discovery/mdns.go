package discovery

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type capture listeners advertise
	ServiceType = "_msrcap._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for listener discovery
	DefaultScanTimeout = 5 * time.Second

	txtMarker = "msrcap=1"
)

// Announcement describes the listener being advertised.
type Announcement struct {
	Instance       string // empty = "msrcap on <hostname>"
	Port           int
	Version        string
	MaxConnections int
	LogFile        string
}

// Advertisement is a running mDNS registration. Call Shutdown to withdraw it.
type Advertisement struct {
	server   *zeroconf.Server
	instance string
}

// Instance returns the registered instance name.
func (a *Advertisement) Instance() string {
	return a.instance
}

// Shutdown withdraws the advertisement. Safe to call more than once.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	logging.Info("mDNS advertisement withdrawn", zap.String("instance", a.instance))
}

// Advertise registers the listener on all multicast interfaces.
func Advertise(ann Announcement) (*Advertisement, error) {
	if ann.Port < 1 || ann.Port > 65535 {
		return nil, fmt.Errorf("cannot advertise port %d", ann.Port)
	}

	instance := ann.Instance
	if instance == "" {
		instance = defaultInstanceName()
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, ann.Port, ann.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising capture listener over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", ann.Port))

	return &Advertisement{server: server, instance: instance}, nil
}

func (ann Announcement) txtRecords() []string {
	txt := []string{txtMarker}
	if ann.Version != "" {
		txt = append(txt, "version="+ann.Version)
	}
	if ann.MaxConnections > 0 {
		txt = append(txt, "max_connections="+strconv.Itoa(ann.MaxConnections))
	}
	if ann.LogFile != "" {
		txt = append(txt, "log="+ann.LogFile)
	}
	return txt
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "msrcap"
	}
	// Instance names are a single DNS label
	host = strings.SplitN(host, ".", 2)[0]
	return "msrcap on " + host
}

// Scanner finds capture listeners on the local network
type Scanner struct {
	// Timeout is the maximum time to wait for listeners to answer
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses for listeners until the timeout or ctx ends and returns
// everything that answered.
func (s *Scanner) Scan(ctx context.Context) ([]*Listener, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make([]*Listener, 0)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				l := parseServiceEntry(entry)
				if l == nil || seen[l.Instance] {
					continue
				}
				seen[l.Instance] = true
				found = append(found, l)
				logging.Debug("Discovered capture listener", zap.String("listener", l.String()))
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-collected

	return found, nil
}

// parseServiceEntry converts a zeroconf service entry to a Listener.
// Returns nil if the entry is not a capture listener.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Listener {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	if metadata["msrcap"] != "1" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	return &Listener{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
