package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/megware/xbatctld/pkg/metrics"
)

// HealthServer serves the HTTP observability endpoints next to the RPC
// listener: health, readiness and liveness probes plus Prometheus metrics.
type HealthServer struct {
	srv *http.Server
}

// NewHealthServer creates the HTTP server for addr.
func NewHealthServer(addr string) *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &HealthServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Stop is called.
func (hs *HealthServer) Start() error {
	err := hs.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to ctx.
func (hs *HealthServer) Stop(ctx context.Context) error {
	return hs.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler; tests mount it directly.
func (hs *HealthServer) Handler() http.Handler {
	return hs.srv.Handler
}
