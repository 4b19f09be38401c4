// Package transport moves protocol documents between roles over TCP.
//
// Each document travels on its own connection: the sender dials, writes the
// encoded document and closes; the receiver reads until end-of-stream and
// decodes exactly one document. Nothing is ever written back, so a sender
// cannot learn whether its document arrived or was understood.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dreamware/smsalert/internal/protocol"
)

const (
	// DefaultHost is the interface roles listen on and dial.
	DefaultHost = "localhost"
	// DefaultDialTimeout bounds connecting to and writing to a peer.
	DefaultDialTimeout = 2 * time.Second
)

// Sender delivers one document to the role listening on port.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, port int, msg protocol.Message) error
}

// Client is the TCP Sender used by all roles.
type Client struct {
	Host        string        // Host every port is resolved against
	DialTimeout time.Duration // Upper bound for dial plus write
}

// NewClient returns a Client dialing host with the given timeout.
// Zero values fall back to DefaultHost and DefaultDialTimeout.
func NewClient(host string, dialTimeout time.Duration) *Client {
	if host == "" {
		host = DefaultHost
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Client{Host: host, DialTimeout: dialTimeout}
}

// Addr returns the host:port address for port.
func (c *Client) Addr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Send opens a connection to port, writes msg and closes the connection.
// No acknowledgement is read.
func (c *Client) Send(ctx context.Context, port int, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()

	addr := c.Addr(port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write %s to %s: %w", msg.Kind(), addr, err)
	}
	return nil
}
