package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusServer exposes the default Prometheus registry over HTTP.
type prometheusServer struct {
	httpServer *http.Server
}

// NewPrometheusServer builds a Server that exposes metrics at path on
// address, backed by the default Prometheus registerer.
func NewPrometheusServer(address, path string) Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &prometheusServer{
		httpServer: &http.Server{
			Addr:    address,
			Handler: mux,
		},
	}
}

// Start begins serving metrics and blocks until ctx is canceled.
func (s *prometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the metrics HTTP server.
func (s *prometheusServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
