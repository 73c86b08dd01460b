package pop3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/infodancer/pop3d/internal/adapter"
	"github.com/infodancer/pop3d/internal/exclusivity"
	"github.com/infodancer/pop3d/internal/logging"
	"github.com/infodancer/pop3d/internal/metrics"
	"github.com/infodancer/pop3d/internal/serializer"
	"github.com/infodancer/pop3d/internal/server"
)

// HandlerConfig wires a Handler to the shared, process-wide services one
// POP3 listener needs (§5, §6).
type HandlerConfig struct {
	Hostname            string
	Implementation      string
	AdapterFactory      adapter.Factory
	Exclusivity         *exclusivity.Registry
	Serializer          *serializer.Serializer
	Collector           metrics.Collector // nil -> metrics.NoopCollector
	MaxInvalidCommands  int
	MaxInvalidPasswords int
	FailedLoginDelay    time.Duration
}

// Handler builds a server.ConnectionHandler that runs the POP3 protocol
// described by cfg over every accepted connection.
func Handler(cfg HandlerConfig) server.ConnectionHandler {
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, conn, cfg, collector)
	}
}

func handleConnection(ctx context.Context, conn *server.Connection, cfg HandlerConfig, collector metrics.Collector) {
	logger := logging.FromContext(ctx)

	collector.ConnectionOpened()
	defer collector.ConnectionClosed()
	if conn.IsTLS() {
		collector.TLSConnectionEstablished()
	}

	a := cfg.Serializer.Wrap(cfg.AdapterFactory())
	defer teardown(ctx, conn, a, cfg.Exclusivity, logger)

	if err := a.ConnectionOpened(ctx, conn.RemoteAddr()); err != nil {
		logger.Error("adapter rejected connection", "error", err.Error())
		return
	}

	sess := NewSession(conn.ID())
	dispatcher := NewDispatcher(DispatcherConfig{
		Hostname:            cfg.Hostname,
		Implementation:      cfg.Implementation,
		MaxInvalidCommands:  cfg.MaxInvalidCommands,
		MaxInvalidPasswords: cfg.MaxInvalidPasswords,
		FailedLoginDelay:    cfg.FailedLoginDelay,
	}, a, cfg.Exclusivity, conn.ID(), conn.RemoteAddr())

	greeting := ok("The POP3 server is ready")
	if !writeResponse(conn, sess, greeting, logger) {
		return
	}

	receiver := NewLineReceiver(conn.Conn())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetCommandTimeout(); err != nil {
			logger.Error("failed to set command timeout", "error", err.Error())
			return
		}

		line, err := receiver.ReadLine()
		if err != nil {
			logLineError(logger, err)
			return
		}

		if err := conn.ResetIdleTimeout(); err != nil {
			logger.Error("failed to reset idle timeout", "error", err.Error())
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		verb := strings.ToUpper(strings.Fields(line)[0])
		stagedUsername := sess.StagedUsername() // cleared by a successful PASS
		resp := dispatcher.Dispatch(ctx, sess, line)
		collector.CommandProcessed(verb)
		if verb == "PASS" {
			collector.AuthAttempt(stagedUsername, resp.OK)
		}

		if !writeResponse(conn, sess, resp, logger) {
			return
		}
		if resp.CloseAfterSend {
			return
		}
	}
}

func writeResponse(conn *server.Connection, sess *Session, resp Response, logger *slog.Logger) bool {
	if _, err := conn.Write(resp.Encode(sess)); err != nil {
		logger.Error("failed to write response", "error", err.Error())
		return false
	}
	return true
}

func logLineError(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Info("client closed connection")
	case errors.Is(err, ErrBufferOverflow):
		logger.Info("closing connection: receive buffer overflow")
	case errors.Is(err, ErrInvalidUTF8):
		logger.Info("closing connection: invalid UTF-8 on the wire")
	default:
		logger.Error("error reading command line", "error", err.Error())
	}
}

// teardown runs the idempotent, always-run close sequence (§5): best-effort
// adapter notification, exclusivity deregistration, socket close.
func teardown(ctx context.Context, conn *server.Connection, a adapter.Adapter, reg *exclusivity.Registry, logger *slog.Logger) {
	if err := a.ConnectionClosed(ctx); err != nil {
		logger.Error("adapter connection_closed failed", "error", err.Error())
	}
	reg.Remove(conn.ID())
	_ = conn.Close()
}
