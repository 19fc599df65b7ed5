package otel

import (
	"context"
	"sync"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[goGuard.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goGuard.MetricsSnapshot{
		Counters:   make(map[goGuard.MetricID]uint64, len(f.counters)),
		Histograms: map[goGuard.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[goGuard.MetricAuthenticateLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) ActiveSecretCount() int { return 2 }

func newReader(t *testing.T, src Source) (*sdkmetric.ManualReader, *Exporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	x, err := New(provider.Meter("goguard-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, x.Close()) })
	return reader, x
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterCollectsCountersAndGauges(t *testing.T) {
	src := &fakeSource{
		counters: map[goGuard.MetricID]uint64{goGuard.MetricAuthSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  4,
	}
	reader, _ := newReader(t, src)
	got := collect(t, reader)

	sum, ok := got["goguard_auth_success_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	require.EqualValues(t, 3, sum.DataPoints[0].Value)
	require.True(t, sum.IsMonotonic)

	dropped := got["goguard_audit_dropped_total"].(metricdata.Sum[int64])
	require.EqualValues(t, 4, dropped.DataPoints[0].Value)

	secrets := got["goguard_active_signing_secrets"].(metricdata.Gauge[int64])
	require.EqualValues(t, 2, secrets.DataPoints[0].Value)

	buckets := got["goguard_authenticate_latency_seconds_bucket"].(metricdata.Gauge[int64])
	require.Len(t, buckets.DataPoints, 8)
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		if le.AsString() == "+Inf" {
			require.EqualValues(t, 8, dp.Value)
		}
	}
	count := got["goguard_authenticate_latency_seconds_count"].(metricdata.Gauge[int64])
	require.EqualValues(t, 8, count.DataPoints[0].Value)
}

func TestExporterSkipsDisabledHistogram(t *testing.T) {
	reader, _ := newReader(t, &fakeSource{counters: map[goGuard.MetricID]uint64{}})
	got := collect(t, reader)
	if g, ok := got["goguard_authenticate_latency_seconds_bucket"].(metricdata.Gauge[int64]); ok {
		require.Empty(t, g.DataPoints)
	}
}

func TestNewRejectsNil(t *testing.T) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	_, err := New(provider.Meter("x"), nil)
	require.ErrorIs(t, err, ErrNilSource)
	_, err = New(nil, &fakeSource{})
	require.ErrorIs(t, err, ErrNilMeter)
}

func TestConcurrentCollect(t *testing.T) {
	src := &fakeSource{counters: map[goGuard.MetricID]uint64{}}
	reader, _ := newReader(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goGuard.MetricCSRFIssued] = v
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
