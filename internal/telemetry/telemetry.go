// Package telemetry configures OpenTelemetry context propagation, so crawl
// notifications carry the trace of the request that started the crawl.
package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var installOnce sync.Once

// InstallPropagators registers W3C trace-context and baggage as the global
// text map propagator. Later calls are no-ops.
func InstallPropagators() {
	installOnce.Do(func() {
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
}
