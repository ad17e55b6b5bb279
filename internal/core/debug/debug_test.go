package debug

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_events_total",
		Help: "Events seen by the test.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/metrics", contains: "test_events_total 1"},
		{path: "/debug/pprof/", contains: "goroutine"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("error requesting %s: %v", tt.path, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("error reading response: %v", err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s want status 200, got %d", tt.path, resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("GET %s response is missing %q", tt.path, tt.contains)
			}
		})
	}
}
