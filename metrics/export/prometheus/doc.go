// Package prometheus exposes goRotate engine metrics as a client_golang Collector.
//
// [NewCollector] reads [goRotate.Engine.MetricsSnapshot] on every scrape. Counters are
// named gorotate_*_total; refresh and validate latencies are histograms in seconds.
// [Collector.Handler] serves a private registry so mounting it never touches the
// global default registry.
//
// # What this package must NOT do
//
//   - Register into prometheus.DefaultRegisterer.
//   - Mutate engine state.
package prometheus
