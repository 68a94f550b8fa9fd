package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteWriteServer records every write request it receives.
func remoteWriteServer(t *testing.T) (*httptest.Server, chan []prompb.TimeSeries) {
	t.Helper()
	received := make(chan []prompb.TimeSeries, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.1.0", r.Header.Get("X-Prometheus-Remote-Write-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var writeReq prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &writeReq))

		received <- writeReq.Timeseries
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func findLabel(labels []prompb.Label, name string) string {
	for _, l := range labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func findSeries(t *testing.T, all []prompb.TimeSeries, name string, labels map[string]string) prompb.TimeSeries {
	t.Helper()
	for _, ts := range all {
		if findLabel(ts.Labels, "__name__") != name {
			continue
		}
		match := true
		for k, v := range labels {
			if findLabel(ts.Labels, k) != v {
				match = false
				break
			}
		}
		if match {
			return ts
		}
	}
	t.Fatalf("series %s %v not found", name, labels)
	return prompb.TimeSeries{}
}

func TestNewPushRegistry(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PushConfig
		wantURL string
	}{
		{
			name:    "minimal config",
			cfg:     PushConfig{URL: "http://localhost:8428"},
			wantURL: "http://localhost:8428/api/v1/write",
		},
		{
			name: "trailing slash",
			cfg: PushConfig{
				URL:      "http://localhost:8428/",
				Prefix:   "roster",
				Job:      "rosterctl",
				Instance: "ci",
				Timeout:  5 * time.Second,
			},
			wantURL: "http://localhost:8428/api/v1/write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewPushRegistry(tt.cfg)
			require.NotNil(t, registry)
			assert.Equal(t, tt.wantURL, registry.url)
		})
	}
}

func TestPushRegistry_FlushEmpty(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	registry := NewPushRegistry(PushConfig{URL: server.URL})
	require.NoError(t, registry.Flush(context.Background()))
	assert.Zero(t, calls.Load())
}

func TestPushRegistry_Flush(t *testing.T) {
	server, received := remoteWriteServer(t)

	registry := NewPushRegistry(PushConfig{
		URL:      server.URL,
		Prefix:   "roster",
		Job:      "rosterctl",
		Instance: "ci",
	})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "last_run_timestamp", Help: "h"})
	require.NoError(t, err)
	gauge.Set(10)
	gauge.Set(42)

	counters, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "steps_total", Help: "h"}, []string{"kind", "outcome"})
	require.NoError(t, err)
	counters.With(prometheus.Labels{"kind": "create_user", "outcome": "success"}).Inc()
	// Same label set in a different map order must hit the same series.
	counters.With(prometheus.Labels{"outcome": "success", "kind": "create_user"}).Add(2)
	counters.With(prometheus.Labels{"kind": "create_user", "outcome": "failure"}).Inc()

	durations, err := registry.NewHistogramVec(prometheus.HistogramOpts{Name: "step_duration_seconds", Help: "h"}, []string{"kind"})
	require.NoError(t, err)
	durations.With(prometheus.Labels{"kind": "create_user"}).Observe(0.5)
	durations.With(prometheus.Labels{"kind": "create_user"}).Observe(1.5)

	require.NoError(t, registry.Flush(context.Background()))

	select {
	case all := <-received:
		require.Len(t, all, 5)

		g := findSeries(t, all, "roster_last_run_timestamp", nil)
		assert.Equal(t, "rosterctl", findLabel(g.Labels, "job"))
		assert.Equal(t, "ci", findLabel(g.Labels, "instance"))
		require.Len(t, g.Samples, 1)
		assert.Equal(t, 42.0, g.Samples[0].Value)

		ok := findSeries(t, all, "roster_steps_total", map[string]string{"outcome": "success"})
		assert.Equal(t, 3.0, ok.Samples[0].Value)
		failed := findSeries(t, all, "roster_steps_total", map[string]string{"outcome": "failure"})
		assert.Equal(t, 1.0, failed.Samples[0].Value)

		sum := findSeries(t, all, "roster_step_duration_seconds_sum", map[string]string{"kind": "create_user"})
		assert.Equal(t, 2.0, sum.Samples[0].Value)
		count := findSeries(t, all, "roster_step_duration_seconds_count", map[string]string{"kind": "create_user"})
		assert.Equal(t, 2.0, count.Samples[0].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for metrics to be received")
	}
}

func TestPushRegistry_FlushError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad write", http.StatusBadRequest)
	}))
	defer server.Close()

	registry := NewPushRegistry(PushConfig{URL: server.URL})
	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "c", Help: "h"})
	require.NoError(t, err)
	counter.Inc()

	err = registry.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestPushCounter_NegativePanics(t *testing.T) {
	registry := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "c", Help: "h"})
	require.NoError(t, err)
	assert.Panics(t, func() { counter.Add(-1) })
}

func TestLabelsToKey(t *testing.T) {
	a := labelsToKey(prometheus.Labels{"b": "2", "a": "1"})
	b := labelsToKey(prometheus.Labels{"a": "1", "b": "2"})
	assert.Equal(t, "a=1,b=2,", a)
	assert.Equal(t, a, b)
}

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)
	require.NotNil(t, registry)

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "A test gauge",
	})
	require.NoError(t, err)
	gauge.Set(42.0)

	counter, err := registry.NewCounterVec(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	}, []string{"kind"})
	require.NoError(t, err)
	counter.With(prometheus.Labels{"kind": "delete_user"}).Inc()

	hist, err := registry.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "A test histogram",
		Buckets: []float64{1, 5},
	}, []string{"kind"})
	require.NoError(t, err)
	hist.With(prometheus.Labels{"kind": "delete_user"}).Observe(2)

	_, err = registry.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "dup"})
	require.Error(t, err, "duplicate registration must fail")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "test_gauge 42")
	assert.Contains(t, body, `test_counter{kind="delete_user"} 1`)
	assert.Contains(t, body, `test_duration_seconds_count{kind="delete_user"} 1`)
}
