// Package prometheus renders goGuard engine metrics in the Prometheus text exposition
// format without a client library or global registry. Callers mount
// [Exporter.Handler]; every scrape reads one engine snapshot.
//
// Counter names are goguard_*_total. The authenticate latency histogram is
// goguard_authenticate_latency_seconds and appears only when latency histograms
// are enabled.
package prometheus
