package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

// HTTPServer exposes node status, the peer roster and prometheus metrics.
type HTTPServer struct {
	node        *Node
	metricsPath string
	metrics     http.Handler
	logger      log.Log
}

func NewHTTPServer(node *Node, registry *prometheus.Registry, metricsPath string) *HTTPServer {
	s := &HTTPServer{
		node:        node,
		metricsPath: metricsPath,
		logger:      node.logger.With(log.Component("http")),
	}
	if registry != nil {
		s.metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/status":
		s.writeJSON(w, s.node.Status())
		return
	case "/peers":
		s.writeJSON(w, s.node.Peers())
		return
	case s.metricsPath:
		if s.metrics != nil {
			s.metrics.ServeHTTP(w, r)
			return
		}
	}

	http.NotFound(w, r)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Write response failed", log.Error(err))
	}
}
