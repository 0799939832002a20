package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestStageObservations(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ObserveReply(100*time.Millisecond, nil)
	m.ObserveSynth(200*time.Millisecond, errors.New("boom"))
	m.ObserveTranscription(5*time.Second, nil)

	rm := collect(t, reader)

	for _, name := range []string{
		"vocalis.reply.duration",
		"vocalis.synth.duration",
		"vocalis.transcription.duration",
	} {
		t.Run(name, func(t *testing.T) {
			if findMetric(rm, name) == nil {
				t.Fatalf("metric %q not recorded", name)
			}
		})
	}

	errMetric := findMetric(rm, "vocalis.provider.errors")
	if errMetric == nil {
		t.Fatal("provider error counter not recorded")
	}
	sum, ok := errMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", errMetric.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 1 {
		t.Fatalf("want 1 provider error, got %d", total)
	}
}

func TestSessionGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	m.TranscriptionStarted()

	rm := collect(t, reader)

	checkGauge := func(name string, want int64) {
		t.Helper()
		metric := findMetric(rm, name)
		if metric == nil {
			t.Fatalf("metric %q not recorded", name)
		}
		sum, ok := metric.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatalf("unexpected data type %T", metric.Data)
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != want {
			t.Fatalf("%s: want %d, got %d", name, want, total)
		}
	}

	checkGauge("vocalis.active_sessions", 1)
	checkGauge("vocalis.active_transcriptions", 1)
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("middleware must pass the status through, got %d", rec.Code)
	}
	rm := collect(t, reader)
	if findMetric(rm, "vocalis.http.request.duration") == nil {
		t.Fatal("request duration not recorded")
	}
}
