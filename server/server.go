package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New builds the HTTP server exposing the voice session endpoint alongside
// health and metrics probes.
func New(config Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/api/session", newSessionHandler(config))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              config.ListenAddr,
		Handler:           otelhttp.NewHandler(mux, "parley"),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ListenAndServe runs the server until ctx ends, then shuts it down
// gracefully.
func ListenAndServe(ctx context.Context, config Config) error {
	srv := New(config)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	logger.Info("listening", "addr", config.ListenAddr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
