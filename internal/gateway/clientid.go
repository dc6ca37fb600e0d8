package gateway

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// clientIDPrefix starts generated client identifiers.
const clientIDPrefix = "sensorgw-"

// ClientID returns the MQTT client identifier for this host.
//
// It is the hardware address of the first non-loopback interface that has
// one, formatted AA-BB-CC-DD-EE-FF. Hosts without one get
// sensorgw-<random uuid>, which changes on every start.
func ClientID() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return clientIDPrefix + uuid.NewString()
	}
	return clientIDFrom(ifaces)
}

func clientIDFrom(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return formatHardwareAddr(iface.HardwareAddr)
	}
	return clientIDPrefix + uuid.NewString()
}

func formatHardwareAddr(addr net.HardwareAddr) string {
	parts := make([]string, len(addr))
	for i, b := range addr {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, "-")
}
