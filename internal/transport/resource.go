// Package transport opens text query sessions to instruments addressed by
// VISA-style resource strings.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidResource = errors.New("invalid resource")

type Kind int

const (
	KindSocket Kind = iota
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// Resource is a parsed instrument address.
type Resource struct {
	Kind   Kind
	Host   string
	Port   int
	Device string // serial device path for KindSerial
}

// Address returns the dial address of a socket resource.
func (r Resource) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Resource) String() string {
	if r.Kind == KindSerial {
		return "ASRL" + r.Device + "::INSTR"
	}
	return fmt.Sprintf("TCPIP::%s::%d::SOCKET", r.Host, r.Port)
}

// ParseResource accepts:
//
//	3232236018                       integer-encoded IPv4
//	192.168.1.242, host:5025         bare host, optional port
//	TCPIP::host[::INSTR]             socket on defaultPort
//	TCPIP0::host::5025::SOCKET       socket on explicit port
//	ASRL/dev/ttyUSB0::INSTR          serial device
//	ASRL::/dev/ttyUSB0::INSTR
//	ASRL3::INSTR                     COM3
func ParseResource(raw string, defaultPort int) (Resource, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Resource{}, fmt.Errorf("%w: empty", ErrInvalidResource)
	}

	if isInteger(s) {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: integer address out of IPv4 range: %q", ErrInvalidResource, raw)
		}
		return Resource{Kind: KindSocket, Host: DecodeIPv4(uint32(n)), Port: defaultPort}, nil
	}

	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "TCPIP"):
		return parseTCPIP(s, defaultPort)
	case strings.HasPrefix(upper, "ASRL"):
		return parseASRL(s)
	}

	// Bare IPv6 literals contain colons but no port.
	if ip := net.ParseIP(s); ip != nil {
		return Resource{Kind: KindSocket, Host: ip.String(), Port: defaultPort}, nil
	}

	if strings.Contains(s, "::") || strings.ContainsAny(s, " /") {
		return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, raw)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Resource{Kind: KindSocket, Host: s, Port: defaultPort}, nil
	}
	port, err := parsePort(portStr)
	if err != nil {
		return Resource{}, err
	}
	if host == "" {
		return Resource{}, fmt.Errorf("%w: missing host in %q", ErrInvalidResource, raw)
	}
	return Resource{Kind: KindSocket, Host: host, Port: port}, nil
}

func parseTCPIP(s string, defaultPort int) (Resource, error) {
	parts := strings.Split(s, "::")
	if !validBoard(parts[0], "TCPIP") {
		return Resource{}, fmt.Errorf("%w: bad interface %q", ErrInvalidResource, parts[0])
	}
	if len(parts) < 2 || parts[1] == "" {
		return Resource{}, fmt.Errorf("%w: missing host in %q", ErrInvalidResource, s)
	}

	res := Resource{Kind: KindSocket, Host: parts[1], Port: defaultPort}
	rest := parts[2:]
	if len(rest) == 0 {
		return res, nil
	}

	suffix := strings.ToUpper(rest[len(rest)-1])
	switch suffix {
	case "SOCKET":
		if len(rest) != 2 {
			return Resource{}, fmt.Errorf("%w: socket resource needs a port: %q", ErrInvalidResource, s)
		}
		port, err := parsePort(rest[0])
		if err != nil {
			return Resource{}, err
		}
		res.Port = port
	case "INSTR":
		// VXI-11 device names (inst0, hislip0) are served over the raw socket.
		if len(rest) > 2 {
			return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
	default:
		return Resource{}, fmt.Errorf("%w: unknown resource class %q", ErrInvalidResource, rest[len(rest)-1])
	}

	return res, nil
}

func parseASRL(s string) (Resource, error) {
	parts := strings.Split(s, "::")
	if n := len(parts); n > 1 && strings.EqualFold(parts[n-1], "INSTR") {
		parts = parts[:n-1]
	}

	device := parts[0][len("ASRL"):]
	if device == "" && len(parts) > 1 {
		device = parts[1]
		parts = parts[1:]
	}
	if device == "" || len(parts) > 1 {
		return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
	}

	if _, err := strconv.Atoi(device); err == nil {
		device = "COM" + device
	}

	return Resource{Kind: KindSerial, Device: device}, nil
}

func validBoard(prefix, iface string) bool {
	if len(prefix) < len(iface) || !strings.EqualFold(prefix[:len(iface)], iface) {
		return false
	}
	board := prefix[len(iface):]
	if board == "" {
		return true
	}
	_, err := strconv.Atoi(board)
	return err == nil
}

// isInteger matches an optionally signed run of decimal digits.
func isInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidResource, s)
	}
	return port, nil
}

// DecodeIPv4 turns a big-endian integer into dotted notation.
func DecodeIPv4(n uint32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return net.IP(b).String()
}

// EncodeIPv4 is the inverse of DecodeIPv4.
func EncodeIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0, fmt.Errorf("%w: not an IPv4 address: %q", ErrInvalidResource, s)
	}
	return binary.BigEndian.Uint32(ip), nil
}
