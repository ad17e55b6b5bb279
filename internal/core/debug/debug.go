package debug

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Utilities is the HTTP server exposing the debug endpoints.
type Utilities struct {
	logger *logrus.Logger
	server *http.Server
}

// NewHandler returns a handler serving the pprof endpoints under /debug/pprof/
// and the metrics in gatherer under /metrics.
func NewHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartUtilities spins off the services associated with debug mode. The pprof
// and metrics endpoints are only reachable via localhost. See
// https://golang.org/pkg/net/http/pprof/
func StartUtilities(logger *logrus.Logger, port int, gatherer prometheus.Gatherer) *Utilities {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting debug server on %s", listenerAddr)

	u := &Utilities{
		logger: logger,
		server: &http.Server{
			Addr:              listenerAddr,
			Handler:           NewHandler(gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		if err := u.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error starting debug server: %s", err)
		}
	}()
	return u
}

// Shutdown stops the debug server.
func (u *Utilities) Shutdown(ctx context.Context) error {
	return u.server.Shutdown(ctx)
}
