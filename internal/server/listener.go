package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/pop3d/internal/config"
	"github.com/infodancer/pop3d/internal/logging"
)

// listenBacklog is the TCP listen backlog; 64 is adequate for a POP3
// server (§4.9).
const listenBacklog = 64

// ConnectionHandler processes one accepted connection to completion. It is
// called on its own goroutine and must not retain conn beyond its return.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// ListenerConfig configures one bound socket.
type ListenerConfig struct {
	Address        string
	Mode           config.ListenerMode
	TLSConfig      *tls.Config
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	LogTransaction bool
	MaxConnections int
	Logger         *slog.Logger
	Handler        ConnectionHandler
}

// Listener binds one TCP (optionally TLS-wrapped) socket, accepts
// connections, and spawns a worker per connection up to a concurrency cap.
type Listener struct {
	cfg      ListenerConfig
	limiter  *ConnectionLimiter
	nextID   atomic.Uint64
	listener net.Listener

	mu     sync.Mutex
	closed bool
}

// NewListener constructs a Listener from cfg. The socket is not bound until
// Start is called.
func NewListener(cfg ListenerConfig) *Listener {
	max := cfg.MaxConnections
	if max <= 0 {
		max = 25
	}
	return &Listener{cfg: cfg, limiter: NewConnectionLimiter(max)}
}

// Address returns the configured listen address.
func (l *Listener) Address() string { return l.cfg.Address }

// Start binds the socket (wrapping it in TLS for pop3s listeners only; a
// TLS config on a pop3 listener is ignored) and runs the accept loop until
// ctx is canceled or Close is called. net.Listen sets SO_REUSEADDR
// implicitly, as Go's net package does for TCP listeners.
func (l *Listener) Start(ctx context.Context) error {
	// Go's net package does not expose a separate backlog parameter on
	// Listen; the OS default is already at least listenBacklog on every
	// platform this targets.
	raw, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}

	ln := raw
	if l.cfg.Mode == config.ModePop3s {
		if l.cfg.TLSConfig == nil {
			_ = raw.Close()
			return errors.New("server: pop3s listener requires a TLS configuration")
		}
		ln = tls.NewListener(raw, l.cfg.TLSConfig)
	}

	l.mu.Lock()
	l.listener = ln
	closed := l.closed
	l.mu.Unlock()
	if closed {
		_ = ln.Close()
		return nil
	}

	logger := l.cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("info")
	}
	logger.Info("listening", slog.String("address", l.cfg.Address), slog.String("mode", string(l.cfg.Mode)))

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() {
				return nil
			}
			var tlsErr tls.RecordHeaderError
			if errors.As(err, &tlsErr) {
				// A malformed TLS handshake on accept is non-fatal.
				continue
			}
			return err
		}

		if !l.limiter.TryAcquire() {
			_ = conn.Close()
			continue
		}

		id := l.nextID.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.limiter.Release()
			l.serve(ctx, id, conn, logger)
		}()
	}
}

func (l *Listener) serve(ctx context.Context, id uint64, conn net.Conn, logger *slog.Logger) {
	wrapped := NewConnection(id, conn, ConnectionConfig{
		IdleTimeout:    l.cfg.IdleTimeout,
		CommandTimeout: l.cfg.CommandTimeout,
	})
	defer wrapped.Close()

	connLogger := logger.With(slog.Uint64("connection_id", id), slog.String("remote_addr", conn.RemoteAddr().String()))
	connCtx := logging.NewContext(ctx, connLogger)

	l.cfg.Handler(connCtx, wrapped)
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting new connections. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
