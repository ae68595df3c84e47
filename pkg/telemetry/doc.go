// Package telemetry provides observability for benchmark runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus):
//
//	tel, err := telemetry.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components receive tel.Metrics as their observer. Spans are created through
// the global tracer provider that New installs, so packages only depend on
// the OpenTelemetry API.
//
// Metrics can be served over HTTP while a run is in progress, written to a
// node-exporter textfile afterwards, or both.
package telemetry
