package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rosterpay_scheduler_job_runs_total",
		Help: "runs",
	}, []string{"job"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rosterpay_change_requests_needing_reconciliation",
		Help: "stuck",
	})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "rosterpay_scheduler_job_duration_seconds",
		Help: "latency",
	})
	registry.MustRegister(counter, gauge, histogram)
	counter.WithLabelValues("expire_pending").Add(3)
	gauge.Set(2)
	histogram.Observe(0.2)
	return registry
}

func TestRemoteWritePushSendsCountersAndGauges(t *testing.T) {
	var got prompb.WriteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		payload, err := snappy.Decode(nil, compressed)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	pusher := NewRemoteWritePusher(server.URL, " secret ")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))
	require.Len(t, got.Timeseries, 2)

	names := map[string]float64{}
	for _, ts := range got.Timeseries {
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, int64(1700000000000), ts.Samples[0].Timestamp)
		assert.Equal(t, "__name__", ts.Labels[0].Name)
		names[ts.Labels[0].Value] = ts.Samples[0].Value
	}
	assert.Equal(t, float64(3), names["rosterpay_scheduler_job_runs_total"])
	assert.Equal(t, float64(2), names["rosterpay_change_requests_needing_reconciliation"])
}

func TestRemoteWritePushReportsRejectedWrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewRemoteWritePusher(server.URL, "").Push(context.Background(), testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayPushUsesJobAndGrouping(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pusher := NewPushgatewayPusher(server.URL, "rosterpay", map[string]string{"environment": "test", "empty": " "})
	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))
	assert.Equal(t, "/metrics/job/rosterpay/environment/test", path)

	assert.Error(t, NewPushgatewayPusher(server.URL, " ", nil).Push(context.Background(), testRegistry(t)))
}

func TestNewPusherFromConfig(t *testing.T) {
	log := zaptest.NewLogger(t)

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterPushgateway}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, log))

	remote := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://prom:9090/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, remote)

	gateway := NewPusher(config.Config{AppName: "rosterpay", MetricsPush: config.MetricsPushConfig{Exporter: "PROMETHEUS_PUSHGATEWAY", Endpoint: "http://pgw:9091"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, gateway)
}
