package server

import (
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"
)

// Connection wraps one accepted net.Conn with the timeout and identity
// bookkeeping the protocol layer needs.
type Connection struct {
	id         uint64
	conn       net.Conn
	acceptedAt time.Time

	idleTimeout    time.Duration
	commandTimeout time.Duration

	closed atomic.Bool
}

// ConnectionConfig configures timeouts for a new Connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
}

// NewConnection wraps conn, identified by id.
func NewConnection(id uint64, conn net.Conn, cfg ConnectionConfig) *Connection {
	return &Connection{
		id:             id,
		conn:           conn,
		acceptedAt:     time.Now(),
		idleTimeout:    cfg.IdleTimeout,
		commandTimeout: cfg.CommandTimeout,
	}
}

// ID returns the connection's monotonically increasing id.
func (c *Connection) ID() uint64 { return c.id }

// Conn returns the underlying net.Conn, for the line receiver.
func (c *Connection) Conn() net.Conn { return c.conn }

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// AcceptedAt returns when the connection was accepted.
func (c *Connection) AcceptedAt() time.Time { return c.acceptedAt }

// IsTLS reports whether the connection is a TLS connection.
func (c *Connection) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// SetCommandTimeout sets the read deadline for the next command line,
// bounding how long the session may stall mid-command (§5).
func (c *Connection) SetCommandTimeout() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.commandTimeout))
}

// ResetIdleTimeout sets the read deadline back to the longer idle window
// after a line has been fully processed.
func (c *Connection) ResetIdleTimeout() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// Write writes b to the connection.
func (c *Connection) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Close closes the underlying connection. Idempotent.
func (c *Connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.conn.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}
