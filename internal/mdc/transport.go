package mdc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.bug.st/serial"
)

// Transport is a byte stream to one display (or one RS-232 chain).
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds the next reads. Reads that exceed it return an
	// error wrapping ErrReadTimeout.
	SetReadTimeout(d time.Duration) error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context) (Transport, error)

// DefaultPort is the MDC TCP port.
const DefaultPort = 1515

// Default serial line settings from the MDC protocol guide.
const DefaultBaudRate = 9600

// TCPDialer returns a Dialer for MDC over TCP.
func TCPDialer(host string, port int) Dialer {
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	return func(ctx context.Context) (Transport, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
		}
		return &tcpTransport{conn: conn}, nil
	}
}

// SerialDialer returns a Dialer for MDC over RS-232 (8N1).
func SerialDialer(device string, baudRate int) Dialer {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	return func(_ context.Context) (Transport, error) {
		port, err := serial.Open(device, mode)
		if err != nil {
			return nil, fmt.Errorf("%w: open serial port %s: %w", ErrConnectionFailed, device, err)
		}
		return &serialTransport{port: port}, nil
	}
}

type tcpTransport struct {
	conn net.Conn
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, fmt.Errorf("%w: %w", ErrReadTimeout, err)
		}
	}
	return n, err
}

func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) SetReadTimeout(d time.Duration) error {
	return t.conn.SetReadDeadline(time.Now().Add(d))
}

// serialTransport adapts go.bug.st/serial, whose Read returns (0, nil)
// when the read timeout expires.
type serialTransport struct {
	port serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err == nil && n == 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}

func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *serialTransport) Close() error { return s.port.Close() }

func (s *serialTransport) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}
