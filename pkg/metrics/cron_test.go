package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)

	m.ObserveRun("reservation-reaper", finished, 250*time.Millisecond, nil)
	m.ObserveRun("reservation-reaper", finished.Add(time.Minute), time.Second, errors.New("boom"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterValue(t, mfs, "cron_job_runs_total", map[string]string{"job": "reservation-reaper", "result": "success"}); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
	if got := counterValue(t, mfs, "cron_job_runs_total", map[string]string{"job": "reservation-reaper", "result": "failure"}); got != 1 {
		t.Fatalf("expected one failure, got %f", got)
	}
	gauge := findMetric(t, mfs, "cron_job_last_success_timestamp_seconds", map[string]string{"job": "reservation-reaper"})
	if got := gauge.GetGauge().GetValue(); got != float64(finished.Unix()) {
		t.Fatalf("last success should ignore the failed run, got %f", got)
	}
	hist := findMetric(t, mfs, "cron_job_duration_seconds", map[string]string{"job": "reservation-reaper"})
	if hist.GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected two duration samples, got %d", hist.GetHistogram().GetSampleCount())
	}
}

func TestNilCronJobMetricsIsSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", time.Now(), time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("job", time.Now(), time.Second, errors.New("x"))
}

func TestStockMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStockMetrics(reg)
	m.ObserveReserve(ReserveOutcomeReserved)
	m.ObserveReserve(ReserveOutcomeReserved)
	m.ObserveReserve(ReserveOutcomeInsufficient)
	m.IncOperation("DECREMENT")
	m.AddReaped(3)
	m.AddReaped(0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterValue(t, mfs, "stock_reservations_total", map[string]string{"outcome": "reserved"}); got != 2 {
		t.Fatalf("expected 2 reserved, got %f", got)
	}
	if got := counterValue(t, mfs, "stock_operations_total", map[string]string{"operation": "DECREMENT"}); got != 1 {
		t.Fatalf("expected 1 decrement, got %f", got)
	}
	if got := counterValue(t, mfs, "stock_reservations_reaped_total", nil); got != 3 {
		t.Fatalf("expected 3 reaped, got %f", got)
	}

	var nilMetrics *StockMetrics
	nilMetrics.ObserveReserve(ReserveOutcomeError)
	nilMetrics.AddReaped(1)
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	return findMetric(t, mfs, name, labels).GetCounter().GetValue()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("%s", fmt.Sprintf("metric %s%v not found", name, labels))
	return nil
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == name && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
