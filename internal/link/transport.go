package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// Supported transport networks.
const (
	NetworkTCP    = "tcp"
	NetworkSerial = "serial"
)

// defaultBaudRate is used for serial endpoints without a baud parameter.
const defaultBaudRate = 9600

// Endpoint is a parsed controller address.
type Endpoint struct {
	Network  string
	Address  string
	BaudRate int
}

// String renders the endpoint in URL form.
func (e Endpoint) String() string {
	if e.Network == NetworkSerial {
		return fmt.Sprintf("serial://%s?baud=%d", e.Address, e.BaudRate)
	}
	return "tcp://" + e.Address
}

// DialFunc opens a transport to an endpoint. It must honour ctx cancellation.
type DialFunc func(ctx context.Context, ep Endpoint) (io.ReadWriteCloser, error)

// ParseAddress parses a controller address.
//
// Supported forms:
//   - "tcp://192.168.200.31:6001"
//   - "192.168.200.31:6001" (TCP implied)
//   - "serial:///dev/ttyUSB0?baud=9600"
func ParseAddress(addr string) (Endpoint, error) {
	if addr == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		return Endpoint{Network: NetworkTCP, Address: addr}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	switch u.Scheme {
	case NetworkTCP:
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		return Endpoint{Network: NetworkTCP, Address: u.Host}, nil
	case NetworkSerial:
		if u.Path == "" {
			return Endpoint{}, fmt.Errorf("%w: serial device path required", ErrInvalidAddress)
		}
		baud := defaultBaudRate
		if v := u.Query().Get("baud"); v != "" {
			baud, err = strconv.Atoi(v)
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("%w: baud %q", ErrInvalidAddress, v)
			}
		}
		return Endpoint{Network: NetworkSerial, Address: u.Path, BaudRate: baud}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q (use tcp or serial)", ErrInvalidAddress, u.Scheme)
	}
}

// TCPAddress builds a TCP address from host and port.
func TCPAddress(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// defaultDial opens TCP sockets and serial ports.
func defaultDial(ctx context.Context, ep Endpoint) (io.ReadWriteCloser, error) {
	switch ep.Network {
	case NetworkTCP:
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", ep.Address)
		if err != nil {
			return nil, fmt.Errorf("dial tcp://%s: %w", ep.Address, err)
		}
		return conn, nil
	case NetworkSerial:
		return openSerial(ctx, ep)
	default:
		return nil, fmt.Errorf("%w: network %q", ErrInvalidAddress, ep.Network)
	}
}

// openSerial opens a serial port with 8N1 framing.
func openSerial(ctx context.Context, ep Endpoint) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: ep.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(ep.Address, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", ep.Address, err)
	}
	return port, nil
}
