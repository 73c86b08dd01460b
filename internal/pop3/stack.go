package pop3

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"

	"github.com/infodancer/pop3d/internal/adapter"
	"github.com/infodancer/pop3d/internal/config"
	"github.com/infodancer/pop3d/internal/exclusivity"
	"github.com/infodancer/pop3d/internal/metrics"
	"github.com/infodancer/pop3d/internal/serializer"
	"github.com/infodancer/pop3d/internal/server"
)

// StackConfig groups the configuration needed to build a Stack. AdapterFactory
// is the only required field beyond Config; it is supplied by the caller
// (cmd/pop3d always wires the bundled in-memory reference adapter for the
// credential under [pop3d.demo_user]; Config.Implementation only names the
// server in the CAPA listing).
type StackConfig struct {
	Config         config.Config
	AdapterFactory adapter.Factory
	TLSConfig      *tls.Config
	Collector      metrics.Collector // nil -> NoopCollector
	Logger         *slog.Logger      // nil -> slog.Default()
}

// Stack owns every component of a running pop3d instance: the process-wide
// exclusivity registry and adapter serializer, the protocol handler, and the
// listener set, and manages their lifecycle together.
type Stack struct {
	server      *server.Server
	exclusivity *exclusivity.Registry
	logger      *slog.Logger
}

// NewStack creates a Stack from the given configuration, wiring the
// exclusivity registry and serializer around AdapterFactory and installing
// the resulting protocol handler on a new server.Server.
func NewStack(cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	if cfg.AdapterFactory == nil {
		return nil, errNoAdapterFactory
	}

	reg := exclusivity.New()
	serial := serializer.New()

	srv, err := server.New(server.Config{
		Cfg:       &cfg.Config,
		TLSConfig: cfg.TLSConfig,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	handler := Handler(HandlerConfig{
		Hostname:            cfg.Config.Hostname,
		Implementation:      cfg.Config.Implementation,
		AdapterFactory:      cfg.AdapterFactory,
		Exclusivity:         reg,
		Serializer:          serial,
		Collector:           collector,
		MaxInvalidCommands:  cfg.Config.Limits.MaxInvalidCommands,
		MaxInvalidPasswords: cfg.Config.Limits.MaxInvalidPasswords,
		FailedLoginDelay:    cfg.Config.Limits.FailedLoginDelay(),
	})
	srv.SetHandler(handler)

	return &Stack{server: srv, exclusivity: reg, logger: logger}, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Stack) Run(ctx context.Context) error {
	return s.server.Run(ctx)
}

// Close shuts down the listeners. The adapter factory and any resources it
// owns are the caller's responsibility, since the Stack never constructs
// adapters itself outside of a live connection.
func (s *Stack) Close() error {
	s.server.Shutdown()
	return nil
}

var errNoAdapterFactory = errors.New("pop3: StackConfig.AdapterFactory is required")
