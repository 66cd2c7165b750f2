// Package client implements the prime-check TCP client: a synchronous
// Client that sends numbers and receives verdicts, and a Prompter that
// drives it from an interactive input stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/primewire/protocol"
)

var (
	// ErrSentinel is returned by Check for 0, which ends the session; use
	// Close instead.
	ErrSentinel = errors.New("0 is the session sentinel; use Close")

	// ErrClosed is returned by Check after Close or after a failed exchange.
	ErrClosed = errors.New("client is closed")
)

// ConnectionState represents the client's position in its session.
type ConnectionState int

const (
	Connected ConnectionState = iota // Ready to send numbers
	Broken                           // An exchange failed; only Close is useful
	Closed                           // Sentinel sent (or attempted) and connection closed
)

// String returns a human-readable name for the state.
func (cs ConnectionState) String() string {
	switch cs {
	case Connected:
		return "Connected"
	case Broken:
		return "Broken"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds the client's connection settings.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// ReadTimeout bounds the wait for each verdict; 0 waits forever.
	ReadTimeout time.Duration
	// WriteTimeout bounds each sent frame; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxStringLen is the largest verdict accepted from the server.
	MaxStringLen int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: ConnectionTimeout 10s, no read or write
//     timeout, MaxStringLen protocol.DefaultMaxStringLen
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		MaxStringLen:      protocol.DefaultMaxStringLen,
	}
}

// Client holds one connection to a prime-check server. Requests are
// strictly sequential; concurrent callers are serialised.
type Client struct {
	cfg   Config
	conn  *protocol.Conn
	state ConnectionState
	mu    sync.Mutex
}

// Dial connects to cfg.Address.
//
// Parameters:
//   - ctx: Context for cancelling the dial
//   - cfg: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A connected *Client
//   - A *protocol.ConnectionError if the connection could not be made
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	dialer := net.Dialer{
		Timeout: cfg.ConnectionTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, &protocol.ConnectionError{Op: "connect", Addr: cfg.Address, Err: err}
	}

	return newClient(conn, cfg), nil
}

func newClient(conn net.Conn, cfg Config) *Client {
	return &Client{
		cfg: cfg,
		conn: protocol.NewConn(conn, protocol.Options{
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxStringLen: cfg.MaxStringLen,
		}),
		state: Connected,
	}
}

// Check sends n and waits for the server's verdict. Cancelling ctx aborts
// a blocked exchange and leaves the client Broken.
//
// Parameters:
//   - ctx: Context for cancelling the exchange
//   - n: A non-zero number to test
//
// Returns:
//   - The verdict text, e.g. "13 is prime"
//   - ErrSentinel for n == 0, ErrClosed if the client is not connected,
//     ctx.Err() (wrapped) if cancelled, or a *protocol.IOError if the
//     exchange fails (the client is then Broken)
func (c *Client) Check(ctx context.Context, n int32) (string, error) {
	if n == 0 {
		return "", ErrSentinel
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return "", ErrClosed
	}

	stop := context.AfterFunc(ctx, c.conn.Interrupt)
	defer func() {
		// An interrupt that already fired leaves the connection unusable.
		if !stop() {
			c.state = Broken
		}
	}()

	if err := c.conn.SendInt(n); err != nil {
		c.state = Broken
		return "", exchangeErr(ctx, err)
	}

	verdict, err := c.conn.RecvString()
	if err != nil {
		c.state = Broken
		return "", exchangeErr(ctx, err)
	}

	return verdict, nil
}

// exchangeErr reports cancellation in place of the timeout error it caused.
func exchangeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("exchange interrupted: %w", ctxErr)
	}

	return err
}

// Close ends the session: it sends the sentinel 0 when the connection is
// still healthy and then closes it. Idempotent.
//
// Returns:
//   - The error from sending the sentinel or closing the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	var sendErr error
	if c.state == Connected {
		sendErr = c.conn.SendInt(0)
	}

	c.state = Closed
	closeErr := c.conn.Close()
	if sendErr != nil {
		return fmt.Errorf("send sentinel: %w", sendErr)
	}

	return closeErr
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteAddr returns the server's address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
