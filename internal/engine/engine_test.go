package engine

import (
	"fmt"
	"testing"

	"threatlens/internal/anomaly"
	"threatlens/internal/classifier"
	"threatlens/internal/feature"
	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

func newTestEngine() *Engine {
	set := rules.DefaultIndicatorSet()
	return New(Options{
		Extractor:        feature.NewExtractor(set),
		Fallback:         rules.NewClassifier(set),
		ClassifierConfig: classifier.DefaultConfig(),
		AnomalyConfig:    anomaly.DefaultIsolationConfig(),
	})
}

func TestAnalyzeUntrainedUsesRulesAndRecommends(t *testing.T) {
	e := newTestEngine()

	record := e.Analyze(&models.Event{ProcessName: "mimikatz.exe"})
	if !record.IsThreat || record.ThreatType != models.CategoryMalware {
		t.Fatalf("expected malware verdict, got %+v", record)
	}
	if record.ThreatID == "" {
		t.Fatalf("expected a threat id")
	}
	if len(record.Recommendations) == 0 {
		t.Fatalf("expected recommendations for a flagged threat")
	}
	if record.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", record.Severity)
	}
}

func TestAnalyzeAnomalyOnlyEvent(t *testing.T) {
	e := newTestEngine()

	record := e.Analyze(&models.Event{ProcessName: "worker", CPUUsage: 99})
	if !record.IsThreat {
		t.Fatalf("expected anomaly-only event to be flagged, got %+v", record)
	}
	if record.ThreatType != "anomaly" {
		t.Fatalf("expected anomaly category, got %s", record.ThreatType)
	}
	if record.Severity != models.SeverityMedium {
		t.Fatalf("expected medium severity for anomaly, got %s", record.Severity)
	}
	if len(record.AnomalyIndicators) == 0 {
		t.Fatalf("expected anomaly indicators")
	}
}

func TestAnalyzeNormalEventNotFlagged(t *testing.T) {
	e := newTestEngine()

	record := e.Analyze(&models.Event{ProcessName: "chrome.exe", CPUUsage: 30})
	if record.IsThreat {
		t.Fatalf("expected normal verdict, got %+v", record)
	}
	if len(record.Recommendations) != 0 {
		t.Fatalf("expected no recommendations for a normal event")
	}
}

func TestAnalyzeBatchReportsOnlyThreatsWithIndices(t *testing.T) {
	e := newTestEngine()

	events := []*models.Event{
		{ProcessName: "chrome.exe", CPUUsage: 20},
		{ProcessName: "svchosts.exe", CPUUsage: 2},
		{ProcessName: "app1", Cmdline: "app1 --serve", CPUUsage: 10},
	}

	report := e.AnalyzeBatch(events)
	if report.TotalAnalyzed != 3 {
		t.Fatalf("expected 3 analyzed, got %d", report.TotalAnalyzed)
	}
	if report.ThreatCount != 1 || len(report.Threats) != 1 {
		t.Fatalf("expected exactly 1 threat, got %+v", report)
	}
	threat := report.Threats[0]
	if threat.LogIndex != 1 {
		t.Fatalf("expected log index 1, got %d", threat.LogIndex)
	}
	if threat.ThreatType != models.CategoryTrojan {
		t.Fatalf("expected trojan for typosquat, got %s", threat.ThreatType)
	}
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	e := newTestEngine()

	report := e.AnalyzeBatch(nil)
	if report.TotalAnalyzed != 0 || report.ThreatCount != 0 {
		t.Fatalf("unexpected report for empty batch: %+v", report)
	}
	if report.Threats == nil {
		t.Fatalf("threats list should be empty, not nil")
	}
}

func TestTrainSwapsGeneration(t *testing.T) {
	e := newTestEngine()

	if gen := e.ModelStatus().Generation; gen != 0 {
		t.Fatalf("expected generation 0, got %d", gen)
	}

	var samples []*models.Event
	for i := 0; i < 20; i++ {
		samples = append(samples, &models.Event{
			ProcessName: fmt.Sprintf("app%d", i),
			CPUUsage:    float64(5 + i),
			Label:       models.CategoryNormal,
		})
	}
	for i := 0; i < 20; i++ {
		samples = append(samples, &models.Event{
			ProcessName:     fmt.Sprintf("bad%d.exe", i),
			Cmdline:         "powershell -encodedcommand aa downloadstring hxxp://x",
			CPUUsage:        float64(80 + i%10),
			ConnectionCount: 30 + i,
			HasNetwork:      true,
			Label:           models.CategoryMalware,
		})
	}

	report, err := e.Train(samples)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if report.Status != "trained" {
		t.Fatalf("expected trained status, got %s", report.Status)
	}

	status := e.ModelStatus()
	if status.Generation != 1 {
		t.Fatalf("expected generation 1 after training, got %d", status.Generation)
	}
	if !status.ClassifierTrained {
		t.Fatalf("expected trained classifier in status")
	}

	if _, err := e.FitAnomaly(samples); err != nil {
		t.Fatalf("fit anomaly: %v", err)
	}
	if gen := e.ModelStatus().Generation; gen != 2 {
		t.Fatalf("expected generation 2 after anomaly fit, got %d", gen)
	}
}

func TestTrainInsufficientKeepsOldModels(t *testing.T) {
	e := newTestEngine()

	_, err := e.Train([]*models.Event{{ProcessName: "a", Label: "normal"}})
	if err == nil {
		t.Fatalf("expected error for tiny training set")
	}
	status := e.ModelStatus()
	if status.Generation != 0 || status.ClassifierTrained {
		t.Fatalf("failed training must not swap models: %+v", status)
	}
}

func TestRuleVerdictEscalatesOverTrainedNormal(t *testing.T) {
	e := newTestEngine()

	// Train on data where malware means heavy network fan-out, so the
	// models know nothing about credential dumpers.
	var samples []*models.Event
	for i := 0; i < 20; i++ {
		samples = append(samples, &models.Event{
			ProcessName: fmt.Sprintf("app%d", i),
			CPUUsage:    float64(5 + i%10),
			Label:       models.CategoryNormal,
		})
	}
	for i := 0; i < 20; i++ {
		samples = append(samples, &models.Event{
			ProcessName:     fmt.Sprintf("flood%d", i),
			CPUUsage:        float64(85 + i%10),
			ConnectionCount: 4000 + i,
			HasNetwork:      true,
			Label:           models.CategoryDDoS,
		})
	}
	if _, err := e.Train(samples); err != nil {
		t.Fatalf("train: %v", err)
	}

	record := e.Analyze(&models.Event{ProcessName: "mimikatz.exe", CPUUsage: 6})
	if !record.IsThreat || record.ThreatType != models.CategoryMalware {
		t.Fatalf("expected rule escalation to malware, got %+v", record)
	}
}
