package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialOptions configures the RS-232 line.
type SerialOptions struct {
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
}

// serialPort is the subset of serial.Port used by SerialClient.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type openPortFunc func(name string, mode *serial.Mode) (serialPort, error)

func openSerialPort(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

// SerialClient is a text query session over a serial line.
type SerialClient struct {
	device     string
	mode       *serial.Mode
	timeout    time.Duration
	terminator byte
	open       openPortFunc

	mu        sync.Mutex
	port      serialPort
	connected bool
}

func NewSerialClient(device string, opts SerialOptions, timeout time.Duration, terminator byte) (*SerialClient, error) {
	mode, err := serialMode(opts)
	if err != nil {
		return nil, err
	}

	return &SerialClient{
		device:     device,
		mode:       mode,
		timeout:    timeout,
		terminator: terminator,
		open:       openSerialPort,
	}, nil
}

// Connect opens the serial device.
func (s *SerialClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := s.open(s.device, s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.device, err)
	}

	s.port = port
	s.connected = true
	return nil
}

// Close closes the serial device.
func (s *SerialClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	s.connected = false
	return err
}

// Query writes one command and reads until the terminator.
func (s *SerialClient) Query(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Drop stale bytes left over from an earlier timed-out exchange.
	if err := s.port.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("reset input buffer: %w", err)
	}

	if _, err := s.port.Write([]byte(command + string(s.terminator))); err != nil {
		return "", fmt.Errorf("write %q failed: %w", command, err)
	}

	deadline := exchangeDeadline(ctx, s.timeout)
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("read reply to %q failed: %w", command, ErrTimeout)
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("set read timeout: %w", err)
		}

		n, err := s.port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("read reply to %q failed: %w", command, err)
		}
		if n == 0 {
			// go.bug.st/serial signals a read timeout with 0, nil.
			return "", fmt.Errorf("read reply to %q failed: %w", command, ErrTimeout)
		}

		buf = append(buf, chunk[:n]...)
		if i := bytes.IndexByte(buf, s.terminator); i >= 0 {
			return strings.TrimSpace(string(buf[:i])), nil
		}
	}
}

func serialMode(opts SerialOptions) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(opts.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	switch opts.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", opts.StopBits)
	}

	return mode, nil
}
