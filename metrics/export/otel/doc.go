// Package otel exposes goGuard engine metrics as OpenTelemetry observable instruments.
//
// [New] registers one callback that reads [goGuard.Engine.MetricsSnapshot] on every
// collection cycle. The caller supplies the Meter and owns the MeterProvider.
package otel
