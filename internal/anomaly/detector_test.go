package anomaly

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"threatlens/internal/feature"
	"threatlens/pkg/models"
)

func trainingEvents(n int) []*models.Event {
	events := make([]*models.Event, n)
	for i := range events {
		events[i] = &models.Event{
			ProcessName:     fmt.Sprintf("p%d", i),
			CPUUsage:        float64(10 + i%20),
			MemoryUsage:     float64(20 + i%15),
			ThreadCount:     8 + i%5,
			ConnectionCount: i % 4,
		}
	}
	return events
}

func TestFitEmptyReturnsNoData(t *testing.T) {
	x := feature.NewExtractor(nil)

	det, report, err := Fit(x, DefaultIsolationConfig(), nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if det != nil {
		t.Fatalf("expected no detector for empty input")
	}
	if report.Status != "no_data" {
		t.Fatalf("expected no_data status, got %s", report.Status)
	}
}

func TestFitTooFewSamples(t *testing.T) {
	x := feature.NewExtractor(nil)

	_, _, err := Fit(x, DefaultIsolationConfig(), trainingEvents(5))
	var insufficient *models.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Got != 5 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
}

func TestUnfittedDetectorRunsStatisticalChecks(t *testing.T) {
	x := feature.NewExtractor(nil)
	d := NewDetector(x, DefaultIsolationConfig())

	hot := d.Detect(&models.Event{ProcessName: "x", CPUUsage: 99})
	if !hot.IsAnomaly {
		t.Fatalf("expected anomaly for cpu 99 without a model, got %+v", hot)
	}
	found := false
	for _, f := range hot.StatisticalFindings {
		if strings.Contains(f, "cpu") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cpu finding, got %v", hot.StatisticalFindings)
	}

	quiet := d.Detect(&models.Event{ProcessName: "x", CPUUsage: 10, MemoryUsage: 10})
	if quiet.IsAnomaly {
		t.Fatalf("expected no anomaly for quiet event, got %+v", quiet)
	}
}

func TestFittedDetectorScoresOutlierHigher(t *testing.T) {
	x := feature.NewExtractor(nil)

	d, report, err := Fit(x, DefaultIsolationConfig(), trainingEvents(200))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if report.Status != "trained" || !d.IsFitted() {
		t.Fatalf("expected trained detector, got %+v", report)
	}

	typical := d.Detect(&models.Event{ProcessName: "p1", CPUUsage: 15, MemoryUsage: 25, ThreadCount: 10})
	outlier := d.Detect(&models.Event{ProcessName: "p1", CPUUsage: 100, MemoryUsage: 99, ThreadCount: 900, ConnectionCount: 5000})

	if outlier.AnomalyScore <= typical.AnomalyScore {
		t.Fatalf("outlier score %.3f not above typical %.3f", outlier.AnomalyScore, typical.AnomalyScore)
	}
	if !outlier.IsAnomaly {
		t.Fatalf("expected outlier to be flagged, got %+v", outlier)
	}
}

func TestBaselineZScoreFinding(t *testing.T) {
	x := feature.NewExtractor(nil)

	d, _, err := Fit(x, DefaultIsolationConfig(), trainingEvents(100))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	res := d.Detect(&models.Event{ProcessName: "p1", CPUUsage: 20, MemoryUsage: 25, ThreadCount: 10000})
	found := false
	for _, f := range res.StatisticalFindings {
		if strings.Contains(f, "thread_count") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected thread_count deviation finding, got %v", res.StatisticalFindings)
	}
	if !res.IsAnomaly {
		t.Fatalf("expected anomaly for extreme thread count")
	}
}

func TestDetectorSaveLoadRoundtrip(t *testing.T) {
	x := feature.NewExtractor(nil)
	dir := t.TempDir()
	probe := &models.Event{ProcessName: "p1", CPUUsage: 100, MemoryUsage: 99, ThreadCount: 900, ConnectionCount: 5000}

	d, _, err := Fit(x, DefaultIsolationConfig(), trainingEvents(100))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := d.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(dir, x, DefaultIsolationConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want, got := d.Detect(probe), loaded.Detect(probe)
	if want.IsAnomaly != got.IsAnomaly || want.AnomalyScore != got.AnomalyScore {
		t.Fatalf("loaded detector disagrees: %+v vs %+v", want, got)
	}
}

func TestDetectorLoadMissingArtifacts(t *testing.T) {
	x := feature.NewExtractor(nil)

	_, err := Load(t.TempDir(), x, DefaultIsolationConfig())
	var loadErr *models.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}
