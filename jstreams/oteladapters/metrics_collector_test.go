package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AntonStoeckl/jstreams-go/jstreams/oteladapters"
)

func givenMetricsCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics), "collecting metrics failed")

	return resourceMetrics
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}

	require.FailNow(t, "metric not found", name)

	return metricdata.Metrics{}
}

func Test_MetricsCollector_RecordDuration_ShouldRecordSeconds(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector()

	// act
	collector.RecordDuration("jstreams_publish_duration_seconds", 150*time.Millisecond, map[string]string{
		"stream": "orders",
		"status": "success",
	})

	// assert
	histogram, ok := findMetric(t, collect(t, reader), "jstreams_publish_duration_seconds").Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected a float64 histogram")
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(1), histogram.DataPoints[0].Count)
	assert.InDelta(t, 0.15, histogram.DataPoints[0].Sum, 0.001)

	expectedAttrs := attribute.NewSet(attribute.String("stream", "orders"), attribute.String("status", "success"))
	assert.True(t, histogram.DataPoints[0].Attributes.Equals(&expectedAttrs))
}

func Test_MetricsCollector_IncrementCounter_ShouldBeSafeForConcurrentUse(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector()
	labels := map[string]string{"subscription": "orders"}

	// act
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.IncrementCounterContext(context.Background(), "jstreams_handled_messages_total", labels)
		}()
	}
	wg.Wait()

	// assert
	sum, ok := findMetric(t, collect(t, reader), "jstreams_handled_messages_total").Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(20), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_RecordValue_ShouldKeepLastValue(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector()

	// act
	collector.RecordValue("jstreams_workers_running", 3, nil)
	collector.RecordValue("jstreams_workers_running", 0, nil)

	// assert
	gauge, ok := findMetric(t, collect(t, reader), "jstreams_workers_running").Data.(metricdata.Gauge[float64])
	require.True(t, ok, "expected a float64 gauge")
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, float64(0), gauge.DataPoints[0].Value)
}
