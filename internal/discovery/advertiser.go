// Package discovery advertises the gateway on the local network over mDNS
// so it can be found by name without knowing its address.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

// maxInstanceNameLen is the DNS label limit for the instance name.
const maxInstanceNameLen = 63

// ErrNoName is returned by Start when the advertiser has no instance name.
var ErrNoName = errors.New("discovery: instance name is empty")

// Logger is the logging interface used by the advertiser.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// responder is the part of a registered mDNS service the advertiser uses.
type responder interface {
	SetText(txt []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (responder, error)

// registerZeroconf registers a service with the zeroconf responder.
func registerZeroconf(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (responder, error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Advertiser publishes one mDNS service record for the gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Advertiser struct {
	name     string
	cfg      config.DiscoveryConfig
	logger   Logger
	register registerFunc

	mu     sync.Mutex
	server responder
}

// NewAdvertiser returns an advertiser for the named instance. Call Start to
// begin answering queries.
func NewAdvertiser(name string, cfg config.DiscoveryConfig, logger Logger) *Advertiser {
	if len(name) > maxInstanceNameLen {
		name = name[:maxInstanceNameLen]
	}
	return &Advertiser{
		name:     name,
		cfg:      cfg,
		logger:   logger,
		register: registerZeroconf,
	}
}

// Name returns the advertised instance name.
func (a *Advertiser) Name() string {
	return a.name
}

// Start registers the service with the given TXT attributes. Calling Start
// while running replaces the existing registration.
func (a *Advertiser) Start(txt map[string]string) error {
	if a.name == "" {
		return ErrNoName
	}

	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := a.register(a.name, a.cfg.Service, a.cfg.Domain, a.cfg.Port, encodeTXT(txt), ifaces)
	if err != nil {
		return fmt.Errorf("registering %s service: %w", a.cfg.Service, err)
	}
	a.server = server

	if a.logger != nil {
		a.logger.Info("mdns advertisement started",
			"name", a.name,
			"service", a.cfg.Service,
			"port", a.cfg.Port,
		)
	}
	return nil
}

// Update replaces the TXT attributes of a running advertisement.
// It is a no-op when the advertiser is stopped.
func (a *Advertiser) Update(txt map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.SetText(encodeTXT(txt))
	}
}

// Stop withdraws the advertisement. Stopping a stopped advertiser is a no-op.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil

	if a.logger != nil {
		a.logger.Info("mdns advertisement stopped", "name", a.name)
	}
}

// Running reports whether the service is registered.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// interfaces resolves the configured interface names. Nil means all.
func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if len(a.cfg.Interfaces) == 0 {
		return nil, nil
	}

	ifaces := make([]net.Interface, 0, len(a.cfg.Interfaces))
	for _, name := range a.cfg.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("mdns interface not found, skipping", "interface", name, "error", err)
			}
			continue
		}
		ifaces = append(ifaces, *iface)
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("discovery: none of the interfaces %v exist", a.cfg.Interfaces)
	}
	return ifaces, nil
}

// encodeTXT renders attributes as sorted key=value strings.
func encodeTXT(txt map[string]string) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
