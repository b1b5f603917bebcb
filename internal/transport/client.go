package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("instrument did not answer in time")
)

// Client is a raw socket session speaking line-terminated text queries.
type Client struct {
	address    string
	conn       net.Conn
	reader     *bufio.Reader
	mu         sync.Mutex
	timeout    time.Duration
	terminator byte
	connected  bool
	// dropped is set when an exchange failed; the next Query dials again.
	dropped bool
}

func NewClient(address string, timeout time.Duration, terminator byte) *Client {
	return &Client{
		address:    address,
		timeout:    timeout,
		terminator: terminator,
	}
}

// Connect dials the instrument.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.address, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true
	c.dropped = false

	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropped = false
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil
	c.reader = nil

	return err
}

// Query sends one command and waits for the terminated reply. After an I/O
// failure the connection is dropped, since a late reply would otherwise be
// read as the answer to the next query, and the next Query dials a fresh
// one. The failed query itself is not repeated.
func (c *Client) Query(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !c.connected {
		if !c.dropped {
			return "", ErrNotConnected
		}
		if err := c.dialLocked(ctx); err != nil {
			return "", fmt.Errorf("reconnect: %w", err)
		}
	}

	deadline := exchangeDeadline(ctx, c.timeout)
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write([]byte(command + string(c.terminator))); err != nil {
		c.drop()
		return "", fmt.Errorf("write %q failed: %w", command, wrapTimeout(err))
	}

	line, err := c.reader.ReadString(c.terminator)
	if err != nil {
		c.drop()
		return "", fmt.Errorf("read reply to %q failed: %w", command, wrapTimeout(err))
	}

	return strings.TrimSpace(line), nil
}

func (c *Client) drop() {
	c.closeLocked()
	c.dropped = true
}

// Address returns the dialed address.
func (c *Client) Address() string {
	return c.address
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func exchangeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

func wrapTimeout(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
