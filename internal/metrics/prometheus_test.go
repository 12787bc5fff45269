package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRegisterCounter tests the RegisterCounter method of the Collector.
func TestRegisterCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	counter, err := collector.RegisterCounter(ctx, "test_counter", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterCounter(ctx, "test_counter", "label1") //nolint:errcheck

	err = collector.AddCounter(ctx, "test_counter", 1, "label1")
	if err != nil {
		t.Fatal(err)
	}

	err = testutil.CollectAndCompare(counter, strings.NewReader(`
	    # HELP nexasec_test_counter Counter for nexasec_test_counter
		# TYPE nexasec_test_counter counter
		nexasec_test_counter{label1="label1"} 1
	`))
	if err != nil {
		t.Fatal(err)
	}
}

// TestRegisterHistogram tests the RegisterHistogram method of the Collector.
func TestRegisterHistogram(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	_, err := collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterHistogram(ctx, "test_histogram", "label1") //nolint:errcheck

	err = collector.ObserveHistogram(ctx, "test_histogram", 2.5, "label1")
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterHistogram_AlreadyRegistered(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	_, err := collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterHistogram(ctx, "test_histogram", "label1") //nolint: errcheck

	_, err = collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("Expected error to indicate registration conflict, got: %v", err)
	}
}

// TestRegisterGauge tests the RegisterGauge method of the Collector.
func TestRegisterGauge(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	gaugeVec, err := collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterGauge(ctx, "test_gauge", "label1") //nolint:errcheck

	gaugeVec.WithLabelValues("label1").Add(1)
	err = testutil.CollectAndCompare(gaugeVec, strings.NewReader(`
	    # HELP nexasec_test_gauge Gauge for nexasec_test_gauge
			# TYPE nexasec_test_gauge gauge
		nexasec_test_gauge{label1="label1"} 1
	`))
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterGauge_AlreadyRegistered(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	_, err := collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterGauge(ctx, "test_gauge", "label1") //nolint: errcheck

	_, err = collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("Expected error to indicate registration conflict, got: %v", err)
	}
}

// TestMetricsHandler tests the MetricsHandler method of the Collector.
func TestMetricsHandler(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	handler := collector.MetricsHandler()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/metrics", nil)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
}

// TestNonExistingCounter tests the AddCounter method of the Collector.
func TestNonExistingCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	err := collector.AddCounter(ctx, "non_existing_counter", 1, "label1")
	if err == nil {
		t.Fatal("expected error for non-existing counter")
	}
}

// TestMeasureFunctionExecutionTime tests the MeasureFunctionExecutionTime method of the Collector.
func TestMeasureFunctionExecutionTime(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	// Start measuring function execution time
	stopFunc, err := collector.MeasureFunctionExecutionTime(ctx, "test_function")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate function execution
	time.Sleep(100 * time.Millisecond)
	stopFunc()

	// Validate the histogram
	histogramVec, ok := collector.(*prometheusCollector).histograms["nexasec_function_duration_seconds"]
	if !ok {
		t.Fatal("histogram 'nexasec_function_duration_seconds' not found")
	}
	if got := testutil.CollectAndCount(histogramVec, "nexasec_function_duration_seconds"); got != 1 {
		t.Fatalf("expected 1 series, got %d", got)
	}

	// A second measurement reuses the histogram
	stopFunc, err = collector.MeasureFunctionExecutionTime(ctx, "test_function")
	if err != nil {
		t.Fatal(err)
	}
	stopFunc()
	if got := histogramSampleCount(t, histogramVec); got != 2 {
		t.Fatalf("expected 2 observations, got %d", got)
	}
}

func histogramSampleCount(t *testing.T, vec *prometheus.HistogramVec) uint64 {
	t.Helper()
	h, err := vec.GetMetricWithLabelValues("test_function")
	if err != nil {
		t.Fatal(err)
	}
	var m dto.Metric
	if err := h.(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestAddGaugeAndLabelMismatch(t *testing.T) {
	ctx := WithMetrics(context.Background(), "nexasec")
	collector := FromContext(ctx, "nexasec")

	if _, err := collector.RegisterGauge(ctx, "scans_running"); err != nil {
		t.Fatal(err)
	}
	if err := collector.AddGauge(ctx, "scans_running", 2); err != nil {
		t.Fatal(err)
	}
	if err := collector.AddGauge(ctx, "scans_running", -1); err != nil {
		t.Fatal(err)
	}
	if _, err := collector.RegisterCounter(ctx, "scans_created_total", "category"); err != nil {
		t.Fatal(err)
	}
	if err := collector.AddCounter(ctx, "scans_created_total", 1, "network", "extra"); err == nil {
		t.Fatal("expected error for wrong number of label values")
	}
}

func TestFromContextWithoutCollector(t *testing.T) {
	if FromContext(context.Background(), "nexasec") == nil {
		t.Fatal("expected a collector")
	}
}
