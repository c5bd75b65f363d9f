package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nearby"

// NewRegistry creates a registry for adapter-level collectors. The default
// registry already carries the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler serves reg merged with the default registry, where the domain
// metrics are registered.
func Handler(reg *prometheus.Registry) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
