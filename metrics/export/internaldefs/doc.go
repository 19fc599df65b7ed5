// Package internaldefs holds the metric names and bucket boundaries shared by the
// Prometheus and OTel exporters, so both expose identical series.
//
// It imports goGuard only for MetricID values and performs no I/O.
package internaldefs
