package port

import (
	"fmt"
	"net"
	"strconv"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// maxPort is the highest valid TCP/UDP port.
const maxPort = 65535

// Scanner checks whether ports are free on one host address.
//
// Availability is probed by binding the port with net.Listen (TCP) or
// net.ListenPacket (UDP) and closing it again. The bind address matches the
// one the server will use, so a port held on another interface is not
// reported as busy.
type Scanner struct {
	host string
}

// NewScanner returns a Scanner that probes host. An empty host or
// "0.0.0.0" probes every interface.
func NewScanner(host string) *Scanner {
	return &Scanner{host: host}
}

func (s *Scanner) addr(port int) string {
	return net.JoinHostPort(s.host, strconv.Itoa(port))
}

// IsPortAvailable reports whether port can be bound for protocol ("tcp" or
// "udp"). Unknown protocols and out-of-range ports are reported as
// unavailable.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	if port < 1 || port > maxPort {
		return false
	}

	switch protocol {
	case "tcp":
		ln, err := net.Listen("tcp", s.addr(port))
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", s.addr(port))
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true

	default:
		return false
	}
}

// FindAvailablePort returns the first free port in [startPort, endPort].
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}

// ResolveServePort returns the TCP port the server should bind. A requested
// port of 0 picks the first free port from model.DefaultPort upward; any
// other port must be free. Failures are CLIErrors with
// model.ExitPortUnavailable.
func (s *Scanner) ResolveServePort(requested int) (int, error) {
	if requested == 0 {
		port, err := s.FindAvailablePort(model.DefaultPort, maxPort, "tcp")
		if err != nil {
			return 0, model.WrapCLIError(model.ExitPortUnavailable, "no free port to listen on", err)
		}
		return port, nil
	}

	if !s.IsPortAvailable(requested, "tcp") {
		return 0, model.NewCLIError(
			model.ExitPortUnavailable,
			fmt.Sprintf("port %d is already in use on %s", requested, hostLabel(s.host)),
		)
	}
	return requested, nil
}

func hostLabel(host string) string {
	if host == "" {
		return "all interfaces"
	}
	return host
}
