package mcpserver

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartMetricsServer serves /metrics over HTTP on addr until ctx is
// cancelled, mirroring the teacher's gateway.Server.startHTTPServer's
// promhttp wiring. A disabled or unconfigured Metrics is a no-op so
// callers don't need to branch on cfg.Metrics.Enabled themselves.
func (s *Services) StartMetricsServer(ctx context.Context, addr string) error {
	if s.Metrics == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
